package execution

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestRetryNode_EmptyNodeIDReturnsErrNodeNotFound(t *testing.T) {
	svc := &Service{}
	_, err := svc.RetryNode(context.Background(), uuid.New(), "", RetryRequest{})
	if err != ErrNodeNotFound {
		t.Errorf("RetryNode with empty nodeId: got %v, want ErrNodeNotFound", err)
	}
}
