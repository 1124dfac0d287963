// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration used for job
// payloads and job results in the task queue.
//
// JSON stays the format for anything a person reads (inventory files,
// CLI output, explanation trails). CBOR is used where bytes are stored
// and compared by the queue: the encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2), so the same payload always produces the
// same bytes.
//
//	data, err := codec.Marshal(params)
//	err = codec.Unmarshal(data, &params)
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Decoding into any yields map[string]any rather than the CBOR
		// default map[any]any, so results stay usable by encoding/json.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is an encoded CBOR value whose decoding is deferred.
type RawMessage = cbor.RawMessage

// Diagnose renders data in CBOR diagnostic notation (RFC 8949 §8).
// The CLI uses it to print payloads of jobs it cannot decode.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
