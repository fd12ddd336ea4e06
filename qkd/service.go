package qkd

import (
	"time"

	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	onetnet "go.dedis.ch/onet/v3/network"
	"go.dedis.ch/protobuf"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// DefaultKeyLength is used when a request doesn't name a key length.
const DefaultKeyLength = 32

// MaxKeyLength bounds the requested key length, mostly to keep the
// photon burst at a sane size.
const MaxKeyLength = 1024

// exchangeTimeout bounds one full protocol run.
const exchangeTimeout = time.Minute

var serviceID onet.ServiceID

func init() {
	var err error
	serviceID, err = onet.RegisterNewService(ServiceName, newService)
	log.ErrFatal(err)
}

// storedKey is the bbolt value kept per peer.
type storedKey struct {
	Key       []byte
	Peer      []byte
	CreatedAt int64
}

// Service runs BB84 exchanges on behalf of clients and stores the
// established keys, one per peer.
type Service struct {
	*onet.ServiceProcessor

	db     *bbolt.DB
	bucket []byte
}

// ExchangeKey establishes a fresh shared key with the given peer. A key
// already shared with that peer is replaced.
func (s *Service) ExchangeKey(req *ExchangeKeyRequest) (*ExchangeKeyReply, error) {
	if req.Peer == nil {
		return nil, xerrors.New("no peer given")
	}
	if req.Peer.ID.Equal(s.ServerIdentity().ID) {
		return nil, xerrors.New("cannot exchange a key with ourselves")
	}
	length := req.Length
	if length == 0 {
		length = DefaultKeyLength
	}
	if length < 1 || length > MaxKeyLength {
		return nil, xerrors.Errorf("key length %d out of range [1, %d]", length, MaxKeyLength)
	}

	pair := onet.NewRoster([]*onetnet.ServerIdentity{s.ServerIdentity(), req.Peer})
	tree := pair.GenerateBinaryTree()
	pi, err := s.CreateProtocol(ProtocolName, tree)
	if err != nil {
		return nil, xerrors.Errorf("couldn't create protocol: %v", err)
	}
	p := pi.(*BB84)
	p.KeyLength = length

	if err := p.Start(); err != nil {
		return nil, err
	}

	select {
	case res := <-p.Result:
		if res.Err != "" {
			return nil, xerrors.Errorf("key exchange failed: %s", res.Err)
		}
		if err := s.storeKey(req.Peer, res.Key); err != nil {
			return nil, err
		}
		return &ExchangeKeyReply{Key: res.Key, QBER: res.QBER}, nil
	case <-time.After(exchangeTimeout):
		return nil, xerrors.New("timeout while exchanging the key")
	}
}

// GetKey returns the key this node shares with the given peer.
func (s *Service) GetKey(req *KeyRequest) (*KeyReply, error) {
	if req.Peer == nil {
		return nil, xerrors.New("no peer given")
	}
	pub, err := req.Peer.Public.MarshalBinary()
	if err != nil {
		return nil, err
	}

	var sk storedKey
	found := false
	err = s.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(s.bucket).Get(pub)
		if buf == nil {
			return nil
		}
		found = true
		return protobuf.Decode(buf, &sk)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, xerrors.Errorf("no key shared with %v", req.Peer)
	}
	return &KeyReply{Key: sk.Key}, nil
}

// storeKey persists the key under the peer's public key.
func (s *Service) storeKey(peer *onetnet.ServerIdentity, key []byte) error {
	pub, err := peer.Public.MarshalBinary()
	if err != nil {
		return err
	}
	buf, err := protobuf.Encode(&storedKey{
		Key:       key,
		Peer:      pub,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put(pub, buf)
	})
}

// NewProtocol is called on Bob's side when Alice spawns the protocol;
// it wires the key storage into the new instance.
func (s *Service) NewProtocol(tn *onet.TreeNodeInstance, conf *onet.GenericConfig) (onet.ProtocolInstance, error) {
	switch tn.ProtocolName() {
	case ProtocolName:
		pi, err := NewBB84(tn)
		if err != nil {
			return nil, err
		}
		p := pi.(*BB84)
		p.StoreKey = func(peer *onetnet.ServerIdentity, key []byte) {
			if err := s.storeKey(peer, key); err != nil {
				log.Error(s.ServerIdentity(), "couldn't store key:", err)
			}
		}
		return p, nil
	default:
		return nil, xerrors.New("no such protocol " + tn.ProtocolName())
	}
}

func newService(c *onet.Context) (onet.Service, error) {
	db, bucket := c.GetAdditionalBucket([]byte("qkd-keys"))

	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
		db:               db,
		bucket:           bucket,
	}
	if err := s.RegisterHandlers(s.ExchangeKey, s.GetKey); err != nil {
		return nil, xerrors.New("couldn't register messages")
	}
	return s, nil
}
