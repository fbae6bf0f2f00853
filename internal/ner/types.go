package ner

import (
	"errors"
	"time"

	"github.com/raaihank/photo-sentinel/internal/pii"
)

// RecognizerError is a typed failure inside the neural path
type RecognizerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *RecognizerError) Error() string {
	return e.Message
}

var (
	ErrModelUnavailable   = &RecognizerError{Type: "model_unavailable", Message: "model assets unavailable", Code: 2001}
	ErrBackendUnavailable = &RecognizerError{Type: "backend_unavailable", Message: "inference backend not compiled in", Code: 2002}
	ErrShapeMismatch      = &RecognizerError{Type: "shape_mismatch", Message: "unexpected logits shape", Code: 2003}
	ErrInferencePanic     = &RecognizerError{Type: "inference_panic", Message: "inference backend panicked", Code: 2004}
)

// Offset is a half-open byte range into the encoded text
type Offset struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Valid reports whether the offset covers at least one byte
func (o Offset) Valid() bool {
	return o.End > o.Start
}

// Encoding is fixed-length model input for one text
type Encoding struct {
	InputIDs      []int64  `json:"input_ids"`
	AttentionMask []int64  `json:"attention_mask"`
	Offsets       []Offset `json:"offsets"`
	Consumed      int      `json:"consumed"` // bytes of the input covered by this window
}

// Len returns the sequence length
func (e *Encoding) Len() int {
	return len(e.InputIDs)
}

// Logits is the raw model output
type Logits struct {
	Data  []float32
	Shape []int64
}

// Result is either Ok with entities or Unavailable with a reason
type Result struct {
	entities []pii.Entity
	reason   error
}

// Ok wraps a successful recognition. A nil slice is a valid empty result.
func Ok(entities []pii.Entity) Result {
	return Result{entities: entities}
}

// Unavailable wraps a failure anywhere in the neural path
func Unavailable(reason error) Result {
	if reason == nil {
		reason = errors.New("unavailable")
	}
	return Result{reason: reason}
}

// Available reports whether the result is Ok
func (r Result) Available() bool {
	return r.reason == nil
}

// Entities returns the recognized entities (nil when unavailable)
func (r Result) Entities() []pii.Entity {
	return r.entities
}

// Reason returns why the recognizer was unavailable
func (r Result) Reason() error {
	return r.reason
}

// Stats tracks recognizer activity
type Stats struct {
	Loaded           bool          `json:"loaded"`
	Available        bool          `json:"available"`
	TotalInferences  int64         `json:"total_inferences"`
	FailedInferences int64         `json:"failed_inferences"`
	TotalEntities    int64         `json:"total_entities"`
	AvgInferenceTime time.Duration `json:"avg_inference_time"`
	ModelLoadTime    time.Duration `json:"model_load_time"`
	LastInference    time.Time     `json:"last_inference_time"`
}
