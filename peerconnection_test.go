// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package webrtc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nimbusrtc/webrtc/internal/ice"
)

func TestNewPeerConnection(t *testing.T) {
	pc, err := NewPeerConnection(Configuration{})
	assert.NoError(t, err)
	assert.NotNil(t, pc)
	assert.Equal(t, SignalingStateStable, pc.SignalingState())
	assert.Equal(t, ICEGatheringStateComplete, pc.iceGatheringState)

	assert.NoError(t, pc.Close())
	assert.Equal(t, PeerConnectionStateClosed, pc.ConnectionState())
}

func TestPeerConnection_ClosedTwice(t *testing.T) {
	pc, err := NewPeerConnection(Configuration{})
	assert.NoError(t, err)

	assert.NoError(t, pc.Close())
	assert.NoError(t, pc.Close())
}

func TestPeerConnection_EventHandlers(t *testing.T) {
	pc, err := NewPeerConnection(Configuration{})
	assert.NoError(t, err)
	defer func() { assert.NoError(t, pc.Close()) }()

	var gotState PeerConnectionState
	pc.OnConnectionStateChange(func(s PeerConnectionState) { gotState = s })
	// Starting the agent already moved the state to connecting, so this
	// update is not a transition and the handler is not called.
	pc.updateConnectionState()
	assert.Equal(t, PeerConnectionState(0), gotState)

	var gotSignaling SignalingState
	pc.OnSignalingStateChange(func(s SignalingState) { gotSignaling = s })

	offer, err := pc.CreateOffer()
	assert.NoError(t, err)
	assert.Equal(t, SDPTypeOffer, offer.Type)

	assert.NoError(t, pc.SetLocalDescription(offer))
	assert.Equal(t, SignalingStateHaveLocalOffer, gotSignaling)
}

func TestPeerConnection_CreateAnswerWithoutRemote(t *testing.T) {
	pc, err := NewPeerConnection(Configuration{})
	assert.NoError(t, err)
	defer func() { assert.NoError(t, pc.Close()) }()

	_, err = pc.CreateAnswer()
	assert.ErrorIs(t, err, ErrNoRemoteDescription)
}

func TestConvertAgentConnectionState(t *testing.T) {
	testCases := []struct {
		in       ice.ConnectionState
		expected ICEConnectionState
	}{
		{ice.StateNewAgent, ICEConnectionStateNew},
		{ice.StateCheckConnection, ICEConnectionStateChecking},
		{ice.StateConnected, ICEConnectionStateConnected},
		{ice.StateNominating, ICEConnectionStateConnected},
		{ice.StateReady, ICEConnectionStateCompleted},
		{ice.StateDisconnected, ICEConnectionStateDisconnected},
		{ice.StateFailed, ICEConnectionStateFailed},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, convertAgentConnectionState(tc.in))
	}
}

func TestReadSSRC(t *testing.T) {
	wire := make([]byte, 12)
	wire[8], wire[9], wire[10], wire[11] = 0x01, 0x02, 0x03, 0x04
	assert.Equal(t, uint32(0x01020304), readSSRC(wire))

	assert.Equal(t, uint32(0), readSSRC(wire[:4]))
}

func TestPeerConnection_HandleAgentDataClassification(t *testing.T) {
	pc, err := NewPeerConnection(Configuration{})
	assert.NoError(t, err)
	defer func() { assert.NoError(t, pc.Close()) }()

	// A DTLS-range first byte should queue onto the inbound channel
	// rather than being treated as RTP/RTCP.
	pc.handleAgentData([]byte{20, 1, 2, 3}, nil)
	select {
	case rec := <-pc.inbound:
		assert.Equal(t, []byte{20, 1, 2, 3}, rec.data)
	default:
		t.Fatal("expected a queued dtls record")
	}

	// Bytes outside every recognized range are dropped, not queued or
	// misrouted.
	pc.handleAgentData([]byte{10}, nil)
	select {
	case <-pc.inbound:
		t.Fatal("unrecognized first byte should not be queued as dtls")
	default:
	}
}
