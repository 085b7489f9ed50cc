// Copyright 2023 Telefonica Investigación y Desarrollo, S.A.U
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package buildinfo exposes the server's version string for GET
// /version. Version is normally stamped at link time with
// -ldflags "-X .../internal/buildinfo.Version=...";  when that flag is
// absent (a plain `go build` or `go run`), it falls back to the module
// version recorded by runtime/debug.ReadBuildInfo.
package buildinfo

import "runtime/debug"

// Version is overridden at link time by the release pipeline.
var Version = "dev"

// Resolve returns Version, or the module's own build info when Version
// was never stamped.
func Resolve() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
