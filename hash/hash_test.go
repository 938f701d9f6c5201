package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestSum(t *testing.T) {
	expected := blake3.Sum256([]byte("operations/doc" + "payload"))
	require.Equal(t, expected, Sum([]byte("operations/doc"), []byte("payload")))
	// hasher returned to the pool must be reset
	require.Equal(t, expected, Sum([]byte("operations/docpayload")))
}
