package model

import "fmt"

// Metadata is the optional sidecar describing a packaged model.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	Result     string  `json:"result"`
	Label      int     `json:"label"`
	Class      string  `json:"class,omitempty"`
	Confidence float32 `json:"confidence"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Result is the best class for one image. Confidence is whatever the
// engine emits for that class, not necessarily a probability.
type Result struct {
	Label      int
	Confidence float32
	Class      string
}

func (r Result) String() string {
	return fmt.Sprintf("Prediction Result: %d, Confidence: %.2f", r.Label, r.Confidence)
}

func (r Result) Response() *PredictionResponse {
	return &PredictionResponse{
		Result:     r.String(),
		Label:      r.Label,
		Class:      r.Class,
		Confidence: r.Confidence,
	}
}

type Shape []int64

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}

// NewShape returns a Shape with the given dimensions.
func NewShape(dimensions ...int64) Shape {
	return dimensions
}

// Layout says where the channel axis sits in the input tensor.
type Layout int

const (
	// LayoutInterleaved stores channels last (HWC).
	LayoutInterleaved Layout = iota
	// LayoutPlanar stores one full plane per channel (CHW).
	LayoutPlanar
)

// InputSpec is the image geometry the model expects.
type InputSpec struct {
	Channels int
	Width    int
	Height   int
	Layout   Layout
}

// Size is the number of float32 values in one input tensor.
func (s InputSpec) Size() int {
	return s.Channels * s.Width * s.Height
}

func (s InputSpec) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Channels, s.Width, s.Height)
}
