package speechkit

import (
	"fmt"
)

// OperationHandle identifies a submitted recognition job.
type OperationHandle struct {
	ID string
}

// Alternative is one recognition hypothesis for a chunk.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Chunk is a recognized segment of audio.
type Chunk struct {
	Alternatives []Alternative `json:"alternatives"`
	ChannelTag   string        `json:"channelTag,omitempty"`
}

// OperationStatus is one observation of a remote operation.
type OperationStatus struct {
	ID         string
	Done       bool
	Chunks     []Chunk
	Error      *OperationError
	CreatedAt  string
	ModifiedAt string
}

// OperationError is the error the service reports for a finished, failed operation.
type OperationError struct {
	OperationID string `json:"-"`
	Code        int    `json:"code"`
	Message     string `json:"message"`
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s failed: code %d: %s", e.OperationID, e.Code, e.Message)
}

type operationBody struct {
	ID         string          `json:"id"`
	Done       bool            `json:"done"`
	CreatedAt  string          `json:"createdAt"`
	ModifiedAt string          `json:"modifiedAt"`
	Error      *OperationError `json:"error"`
	Response   *struct {
		Chunks []Chunk `json:"chunks"`
	} `json:"response"`
}

func (b operationBody) status() OperationStatus {
	st := OperationStatus{
		ID:         b.ID,
		Done:       b.Done,
		CreatedAt:  b.CreatedAt,
		ModifiedAt: b.ModifiedAt,
		Error:      b.Error,
	}
	if st.Error != nil {
		st.Error.OperationID = b.ID
	}
	if b.Response != nil {
		st.Chunks = b.Response.Chunks
	}
	return st
}
