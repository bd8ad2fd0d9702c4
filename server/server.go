// Package server contains payload types shared by the HTTP layers.
package server

import (
	"encoding/json"
	"go/types"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// FloatT is a struct with a single float64 field, used for json IO
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, used for json IO
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field, used for json IO
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field, used for json IO
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a struct containing the basic types to be exchanged with
// clients.  The T field tags which of the value fields is live.
type HumanPayload struct {
	// T holds the type of the payload
	T types.BasicKind

	// Bool holds a binary value
	Bool bool

	// Int holds an integer value
	Int int

	// Float holds a floating point value
	Float float64

	// String holds a text value
	String string
}

// EncodeAndRespond writes the payload to w as a single-field JSON object,
// {"f64": v} and so forth, matching the T field.
func (hp *HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var (
		obj interface{}
	)
	switch hp.T {
	case types.Bool:
		obj = BoolT{Bool: hp.Bool}
	case types.Int:
		obj = IntT{Int: hp.Int}
	case types.Float64:
		obj = FloatT{F64: hp.Float}
	case types.String:
		obj = StrT{Str: hp.String}
	default:
		http.Error(w, "payload type not understood by the server", http.StatusInternalServerError)
		return
	}
	err := json.NewEncoder(w).Encode(obj)
	if err != nil {
		log.WithFields(log.Fields{"payload": obj}).Error("error encoding response to json")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
