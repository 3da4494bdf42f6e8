// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package webrtc

// newPair builds two unconnected PeerConnections ready to be wired
// together with signalPair.
func newPair() (pcOffer *PeerConnection, pcAnswer *PeerConnection, err error) {
	pca, err := NewPeerConnection(Configuration{})
	if err != nil {
		return nil, nil, err
	}

	pcb, err := NewPeerConnection(Configuration{})
	if err != nil {
		return nil, nil, err
	}

	return pca, pcb, nil
}

// signalPair carries out a full offer/answer exchange between two
// PeerConnections. ICE candidate gathering here is synchronous (see
// localICECandidates), so unlike the non-trickle dance real browsers
// need, the first CreateOffer/CreateAnswer result already carries
// every local candidate.
func signalPair(pcOffer *PeerConnection, pcAnswer *PeerConnection) error {
	// A data channel is required to produce the "application" media
	// section the SCTP association needs; tests that want a bare
	// media-only exchange still get one transparently.
	if _, err := pcOffer.CreateDataChannel("initial_data_channel", nil); err != nil {
		return err
	}

	offer, err := pcOffer.CreateOffer()
	if err != nil {
		return err
	}
	if err = pcOffer.SetLocalDescription(offer); err != nil {
		return err
	}

	if err = pcAnswer.SetRemoteDescription(*pcOffer.LocalDescription()); err != nil {
		return err
	}

	answer, err := pcAnswer.CreateAnswer()
	if err != nil {
		return err
	}
	if err = pcAnswer.SetLocalDescription(answer); err != nil {
		return err
	}

	return pcOffer.SetRemoteDescription(*pcAnswer.LocalDescription())
}
