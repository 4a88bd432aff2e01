package vision

import "errors"

var (
	// ErrDecode means the bytes are not a decodable image (corrupt, truncated or an
	// unsupported codec).
	ErrDecode = errors.New("decode image failed")
	// ErrInference covers shape mismatches, backend faults and scores outside [0,1].
	ErrInference = errors.New("inference failed")
)
