package guardtype

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHash_RoundTripsThroughString(t *testing.T) {
	raw := strings.Repeat("ab", 32)
	h, err := ParseHash(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, h.String())
}

func TestParseHash_RejectsWrongLength(t *testing.T) {
	_, err := ParseHash("ab")
	assert.Error(t, err)
}

func TestParseHash_RejectsNonHex(t *testing.T) {
	_, err := ParseHash(strings.Repeat("zz", 32))
	assert.Error(t, err)
}

func TestHash_MarshalUnmarshalText(t *testing.T) {
	var h Hash
	h[0] = 0xff
	text, err := h.MarshalText()
	require.NoError(t, err)

	var back Hash
	require.NoError(t, back.UnmarshalText(text))
	assert.True(t, h.Equals(back))
}

func TestHash_CompareAndIsZero(t *testing.T) {
	var zero Hash
	assert.True(t, zero.IsZero())

	var a, b Hash
	a[31] = 1
	b[31] = 2
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestBidSet_NewFindSlice(t *testing.T) {
	var t1, t2 Hash
	t1[0], t2[0] = 1, 2
	bids := []Bid{{Txid: t1}, {Txid: t2}}

	set := NewBidSet(bids)
	assert.Len(t, set, 2)

	found, ok := set.Find(t1)
	require.True(t, ok)
	assert.Equal(t, t1, found.Txid)

	var missing Hash
	missing[0] = 9
	_, ok = set.Find(missing)
	assert.False(t, ok)

	assert.Len(t, set.Slice(), 2)
}

func TestBidSet_NewKeepsLastDuplicate(t *testing.T) {
	var txid Hash
	txid[0] = 5
	first := Bid{Txid: txid}
	second := Bid{Txid: txid, Payment: &BidPayment{Vout: 7}}

	set := NewBidSet([]Bid{first, second})
	require.Len(t, set, 1)
	found, _ := set.Find(txid)
	require.NotNil(t, found.Payment)
	assert.Equal(t, uint32(7), found.Payment.Vout)
}

func TestResponse_RecordCreditsEachBidOncePerWindow(t *testing.T) {
	r := NewResponse()
	var a, b Hash
	a[0], b[0] = 1, 2

	r.Record(map[Hash]struct{}{a: {}, b: {}})
	r.Record(map[Hash]struct{}{a: {}})

	assert.Equal(t, uint32(2), r.NumChallenges)
	assert.Equal(t, uint32(2), r.BidResponses[a])
	assert.Equal(t, uint32(1), r.BidResponses[b])
}

func TestResponse_RecordOnZeroValueInitializesMap(t *testing.T) {
	var r Response
	var a Hash
	a[0] = 3
	r.Record(map[Hash]struct{}{a: {}})
	assert.Equal(t, uint32(1), r.NumChallenges)
	assert.Equal(t, uint32(1), r.BidResponses[a])
}

func TestRequest_HasValidClientchainWindow(t *testing.T) {
	valid := Request{StartBlockheightClientchain: 1, EndBlockheightClientchain: 5}
	assert.True(t, valid.HasValidClientchainWindow())

	invalid := Request{StartBlockheightClientchain: 5, EndBlockheightClientchain: 1}
	assert.False(t, invalid.HasValidClientchainWindow())
}

func TestSharedState_OpenAndCloseChallenge(t *testing.T) {
	req := Request{StartBlockheight: 1}
	var bidTxid Hash
	bidTxid[0] = 1
	bids := NewBidSet([]Bid{{Txid: bidTxid}})
	s := NewSharedState(req, bids)

	snap := s.Read()
	assert.Nil(t, snap.Latest)
	assert.Equal(t, req.StartBlockheight, snap.Request.StartBlockheight)

	var challenge Hash
	challenge[0] = 9
	s.OpenChallenge(challenge)
	snap = s.Read()
	require.NotNil(t, snap.Latest)
	assert.True(t, snap.Latest.Equals(challenge))

	s.CloseChallenge()
	snap = s.Read()
	assert.Nil(t, snap.Latest)
}

func TestSharedState_SetRequestReplacesSnapshot(t *testing.T) {
	s := NewSharedState(Request{StartBlockheight: 1}, nil)
	s.SetRequest(Request{StartBlockheight: 99})
	assert.Equal(t, uint32(99), s.Read().Request.StartBlockheight)
}
