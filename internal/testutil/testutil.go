// Package testutil holds fixtures shared by the storage tests.
package testutil

import (
	"bytes"
	"flag"
	"testing"

	"github.com/i5heu/moonblokz-storage/pkg/model"
	"github.com/i5heu/moonblokz-storage/pkg/storage"
)

var RunLong = flag.Bool("long", false, "run long/heavy tests")

func RequireLong(t *testing.T) {
	t.Helper()
	if !*RunLong {
		t.Skip("skipping long test (use -long to enable)")
	}
}

func IsLongEnabled() bool {
	return *RunLong
}

// Identity used by tests that initialize a backend.
var (
	PrivateKey = [storage.PrivateKeySize]byte{7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
		7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7}
	InitParams = [storage.InitParamsSize]byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9}
)

// NodeID pairs with PrivateKey.
const NodeID uint32 = 42

// Block builds a block whose payload is payloadLen copies of marker. The
// marker is also the sequence number, which keeps blocks distinguishable.
func Block(t testing.TB, marker byte, payloadLen int) model.Block {
	t.Helper()
	b, err := model.NewBuilder().
		Header(model.BlockHeader{
			Version:  1,
			Sequence: uint32(marker),
			Creator:  NodeID,
		}).
		Payload(bytes.Repeat([]byte{marker}, payloadLen)).
		Build()
	if err != nil {
		t.Fatalf("build block: %v", err)
	}
	return b
}

// FullBlock builds a block of exactly MaxBlockSize bytes.
func FullBlock(t testing.TB, marker byte) model.Block {
	t.Helper()
	return Block(t, marker, model.MaxPayloadSize)
}
