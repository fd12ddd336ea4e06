package qkd

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3"
)

func TestClient_ExchangeKey(t *testing.T) {
	local := onet.NewTCPTest(tSuite)
	defer local.CloseAll()
	_, ro, _ := local.GenTree(3, true)

	client := NewClient()
	reply, err := client.ExchangeKey(ro.List[0], ro.List[1], 0)
	require.NoError(t, err)
	require.Len(t, reply.Key, DefaultKeyLength)
	require.Zero(t, reply.QBER)

	// Both sides hold the same key.
	alice, err := client.Key(ro.List[0], ro.List[1])
	require.NoError(t, err)
	require.Equal(t, reply.Key, alice)
	bob, err := client.Key(ro.List[1], ro.List[0])
	require.NoError(t, err)
	require.Equal(t, reply.Key, bob)

	// A fresh exchange replaces the key.
	second, err := client.ExchangeKey(ro.List[0], ro.List[1], 8)
	require.NoError(t, err)
	require.Len(t, second.Key, 8)
	require.NotEqual(t, reply.Key, second.Key)
	alice, err = client.Key(ro.List[0], ro.List[1])
	require.NoError(t, err)
	require.Equal(t, second.Key, alice)
}

func TestClient_ExchangeKey_Refused(t *testing.T) {
	local := onet.NewTCPTest(tSuite)
	defer local.CloseAll()
	_, ro, _ := local.GenTree(2, true)

	client := NewClient()
	_, err := client.ExchangeKey(ro.List[0], ro.List[0], 0)
	require.Error(t, err)

	_, err = client.ExchangeKey(ro.List[0], ro.List[1], MaxKeyLength+1)
	require.Error(t, err)
}

func TestClient_Key_Unknown(t *testing.T) {
	local := onet.NewTCPTest(tSuite)
	defer local.CloseAll()
	_, ro, _ := local.GenTree(3, true)

	client := NewClient()
	_, err := client.Key(ro.List[0], ro.List[2])
	require.Error(t, err)
}
