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

package httpapi

import "github.com/pasquy73/fiware-sth-comet/internal/types"

// contextResponseEnvelope is the fixed response shape for every data
// query, empty or not.
type contextResponseEnvelope struct {
	ContextResponses []contextResponse `json:"contextResponses"`
}

type contextResponse struct {
	ContextElement contextElement `json:"contextElement"`
	StatusCode     statusCode     `json:"statusCode"`
}

type contextElement struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	IsPattern  bool        `json:"isPattern"`
	Attributes []attribute `json:"attributes"`
}

type attribute struct {
	Name   string `json:"name"`
	Values any    `json:"values"`
}

type statusCode struct {
	Code         string `json:"code"`
	ReasonPhrase string `json:"reasonPhrase"`
}

func okEnvelope(entityID, entityType, attrName string, values any) contextResponseEnvelope {
	if values == nil {
		values = []any{}
	}
	return contextResponseEnvelope{
		ContextResponses: []contextResponse{{
			ContextElement: contextElement{
				ID: entityID, Type: entityType, IsPattern: false,
				Attributes: []attribute{{Name: attrName, Values: values}},
			},
			StatusCode: statusCode{Code: "200", ReasonPhrase: "OK"},
		}},
	}
}

// validationError is the fixed 400 body shape.
type validationError struct {
	Source string   `json:"source"`
	Keys   []string `json:"keys"`
}

// rawValue shapes one raw event for the JSON response.
type rawValue struct {
	RecvTime  string `json:"recvTime"`
	AttrType  string `json:"attrType,omitempty"`
	AttrValue any    `json:"attrValue"`
}

func rawValues(events []types.Event) []rawValue {
	out := make([]rawValue, 0, len(events))
	for _, ev := range events {
		out = append(out, rawValue{
			RecvTime:  ev.RecvTime.UTC().Format(rfc3339Milli),
			AttrType:  ev.AttrType,
			AttrValue: ev.AttrValue,
		})
	}
	return out
}

const rfc3339Milli = "2006-01-02T15:04:05.000Z"

// bucketValue shapes one aggregate bucket for the JSON response.
type bucketValue struct {
	Origin     string       `json:"origin"`
	Resolution string       `json:"resolution"`
	Points     []pointValue `json:"points"`
}

// pointValue is one slot, projected to the requested method; samples=0
// slots appear only when filterEmpty is off.
type pointValue struct {
	Offset  int      `json:"offset"`
	Samples int64    `json:"samples"`
	Value   any      `json:"value,omitempty"`
	Occur   map[string]int64 `json:"occur,omitempty"`
}

// bucketValues shapes buckets for the JSON response. Offset is always
// taken from the slot's position in the full, unfiltered Numeric/
// String array (its true second/minute/hour/day/month position);
// filterEmpty only decides whether a samples=0 slot is omitted from
// Points afterward, so a dropped leading slot never shifts the offset
// reported for the slots that follow it.
func bucketValues(buckets []types.Bucket, method types.Method, filterEmpty bool) []bucketValue {
	out := make([]bucketValue, 0, len(buckets))
	for _, b := range buckets {
		bv := bucketValue{
			Origin:     b.Origin.UTC().Format(rfc3339Milli),
			Resolution: string(b.Resolution),
		}
		if b.IsNumeric() {
			for i, s := range b.Numeric {
				if filterEmpty && s.Samples == 0 {
					continue
				}
				bv.Points = append(bv.Points, pointValue{Offset: i, Samples: s.Samples, Value: projectNumeric(method, s)})
			}
		} else {
			for i, s := range b.String {
				if filterEmpty && s.Samples == 0 {
					continue
				}
				bv.Points = append(bv.Points, pointValue{Offset: i, Samples: s.Samples, Occur: s.Occur})
			}
		}
		out = append(out, bv)
	}
	return out
}

func projectNumeric(method types.Method, s types.NumericSlot) any {
	switch method {
	case types.MethodMin:
		return s.Min
	case types.MethodMax:
		return s.Max
	case types.MethodSum:
		return s.Sum
	case types.MethodSum2:
		return s.Sum2
	default:
		return nil
	}
}
