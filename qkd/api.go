package qkd

import (
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"

	"github.com/quantumprotocol/quantumprotocol"
)

// Client is a structure to communicate with the QKD service.
type Client struct {
	*onet.Client
}

// NewClient instantiates a new qkd.Client.
func NewClient() *Client {
	return &Client{Client: onet.NewClient(quantumprotocol.Suite, ServiceName)}
}

// ExchangeKey asks dst to establish a shared key of the given length in
// bytes with peer. A zero length asks for DefaultKeyLength.
func (c *Client) ExchangeKey(dst, peer *network.ServerIdentity, length int) (*ExchangeKeyReply, error) {
	reply := &ExchangeKeyReply{}
	err := c.SendProtobuf(dst, &ExchangeKeyRequest{Peer: peer, Length: length}, reply)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Key returns the key dst shares with peer.
func (c *Client) Key(dst, peer *network.ServerIdentity) ([]byte, error) {
	reply := &KeyReply{}
	err := c.SendProtobuf(dst, &KeyRequest{Peer: peer}, reply)
	if err != nil {
		return nil, err
	}
	return reply.Key, nil
}
