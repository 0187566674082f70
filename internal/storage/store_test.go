package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ffi-copilot/internal/document"
)

func TestCheckBatchIDs(t *testing.T) {
	a := testChunk("a.txt", document.DocTypeOther, 0, 0, "eins", 1, 0, 0, 0)
	b := testChunk("a.txt", document.DocTypeOther, 0, 1, "zwei", 0, 1, 0, 0)

	tests := []struct {
		name    string
		chunks  []*Chunk
		wantErr error
		wantMsg string
	}{
		{name: "distinct", chunks: []*Chunk{a, b}},
		{name: "repeated in batch", chunks: []*Chunk{a, b, a}, wantErr: ErrDuplicateID},
		{name: "empty id", chunks: []*Chunk{{Source: "b.txt"}}, wantMsg: "chunk from b.txt has empty id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkBatchIDs(tt.chunks)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantMsg != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantMsg, err.Error())
			default:
				assert.NoError(t, err)
			}
		})
	}
}
