// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// FloatT is a struct with a single float64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload holds one value of a basic type and knows how to send it
// to a client as one of FloatT, IntT, StrT, or BoolT.
type HumanPayload struct {
	// T selects the field that is sent
	T types.BasicKind

	Float  float64
	Int    int
	String string
	Bool   bool
}

// EncodeAndRespond writes the payload to w as JSON.  An unsupported kind is
// a 500.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Float64, types.Float32:
		v = FloatT{F64: hp.Float}
	case types.Int, types.Int64, types.Int32:
		v = IntT{Int: hp.Int}
	case types.String:
		v = StrT{Str: hp.String}
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	default:
		http.Error(w, fmt.Sprintf("cannot encode payload of kind %d", hp.T), http.StatusInternalServerError)
		return
	}
	ReplyWithJSON(w, v)
}

// ReplyWithJSON encodes v as the body of a 200 response
func ReplyWithJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		// the header is gone, all that can be done is to log it
		log.Error("encoding reply", "err", err)
	}
}

// ReplyWithFile replies to the client request by serving the given file name
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	filePath, err := filepath.Abs(filepath.Join(fldr, fn))
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of file %s %s %s", fldr, fn, err)
		log.Error(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filePath)
		log.Error(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		log.Error(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}
