package ice

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/pion/stun/v3"

	"github.com/nimbusrtc/webrtc/internal/netio"
	"github.com/nimbusrtc/webrtc/internal/turn"
)

// gatherHostCandidates enumerates non-loopback, running interfaces
// (honoring the user's InterfaceFilter) and opens one UDP host
// candidate on each of their non-link-local addresses. No TCP host
// candidates are gathered.
func (a *Agent) gatherHostCandidates() error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("ice: enumerate interfaces: %w", err)
	}

	localPref := uint32(0xFFFF)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if a.config.InterfaceFilter != nil && a.config.InterfaceFilter(iface) {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		pointToPoint := iface.Flags&net.FlagPointToPoint != 0

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLinkLocalUnicast() {
				continue
			}

			conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ipNet.IP, Port: 0})
			if err != nil {
				a.log.Debugf("ice: skip interface %s: %v", iface.Name, err)
				continue
			}
			ep, err := netio.NewEndpoint(udpPacketConn{conn}, nil)
			if err != nil {
				continue
			}
			a.listener.AddEndpoint(ep)

			local := NewAddress(ipNet.IP, uint16(conn.LocalAddr().(*net.UDPAddr).Port), pointToPoint)
			// Preference non-point-to-point interfaces over VPN ones,
			// the hint spec.md §3 describes.
			pref := localPref
			if pointToPoint {
				pref /= 2
			}
			localPref--

			c := NewCandidate(KindHost, TransportUDP, local, Address{}, 1, foundation(KindHost, TransportUDP, local), pref)
			c.Endpoint = ep
			c.SetState(StateValid)
			ep.SetDataAvailableFunc(c, a.handleEndpointData)
			a.addLocalCandidate(c)
			a.onNewLocalCandidate(c)
		}
	}
	return nil
}

// gatherServerReflexive sends a Binding request from each host
// candidate to each configured STUN/TURN server and registers a
// server-reflexive candidate on response.
func (a *Agent) gatherServerReflexive(hosts []*Candidate) {
	for _, srv := range a.config.Servers {
		for _, host := range hosts {
			if host.Transport != srv.Transport {
				continue
			}
			a.sendGatherBinding(host, srv)
		}
	}
}

func (a *Agent) sendGatherBinding(host *Candidate, srv ServerConfig) {
	msg, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return
	}
	host.IDs.Insert(msg.TransactionID)
	udpAddr, err := net.ResolveUDPAddr("udp", stripScheme(srv.URL))
	if err != nil {
		a.log.Warnf("ice: resolve STUN server %s: %v", srv.URL, err)
		return
	}
	if _, err := host.Endpoint.SendTo(msg.Raw, udpAddr); err != nil {
		a.log.Debugf("ice: gather binding send failed: %v", err)
	}
}

// handleGatherResponse registers a server-reflexive candidate once a
// Binding success for a gather request arrives; called from the
// agent's STUN dispatch path (handleBindingSuccess).
func (a *Agent) handleGatherResponse(host *Candidate, mapped Address) {
	c := NewCandidate(KindServerReflexive, host.Transport, host.Base, mapped, host.Component, foundation(KindServerReflexive, host.Transport, mapped), 0xFFFF)
	c.Endpoint = host.Endpoint
	c.SetState(StateValid)
	a.addLocalCandidate(c)
	a.onNewLocalCandidate(c)
}

// RegisterRelayCandidate is the callback a TURN connection invokes once
// its allocation succeeds (spec.md §9 "cyclic ownership"): the TURN
// connection reports up via a callback carrying the relay address and
// the socket endpoint it is framing channel-data over. Unlike host and
// server-reflexive candidates, ep's inbound bytes are already routed
// through client's channel-data unwrapping (gatherOneRelay installed
// that DataAvailableFunc before allocation even started), so this only
// needs to register the candidate and bind outbound sends to client.
func (a *Agent) RegisterRelayCandidate(base, relay Address, ep *netio.Endpoint, client *turn.Client) {
	c := NewCandidate(KindRelay, TransportUDP, base, relay, 1, foundation(KindRelay, TransportUDP, relay), 0)
	c.Endpoint = ep
	c.SetState(StateValid)

	a.mu.Lock()
	a.turnClients[c] = client
	a.mu.Unlock()
	a.BindRelay(c, func(buf []byte, dst Address) error {
		return client.Send(buf, dst.NetIP())
	})

	a.addLocalCandidate(c)
	a.onNewLocalCandidate(c)
}

// gatherRelayCandidates allocates a TURN relay candidate from every
// configured turn:/turns: server (spec.md §4.3, component D), wiring
// each allocation's channel-data framing into the agent's send/receive
// path via BindRelay/RegisterRelayCandidate.
func (a *Agent) gatherRelayCandidates() {
	for _, srv := range a.config.Servers {
		scheme, ok := turnScheme(srv.URL)
		if !ok {
			continue
		}
		if err := a.gatherOneRelay(srv, scheme); err != nil {
			a.log.Warnf("ice: turn allocation to %s failed: %v", srv.URL, err)
		}
	}
}

// gatherOneRelay dials one TURN server, stands up a turn.Client over
// the dialed socket, and starts its allocation handshake. The relay
// candidate itself only appears once the client's OnRelayAddress fires
// (RegisterRelayCandidate), asynchronously with respect to this call.
func (a *Agent) gatherOneRelay(srv ServerConfig, scheme string) error {
	addr := stripScheme(srv.URL)

	if scheme == "turns" {
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = addr
		}
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
		if err != nil {
			return fmt.Errorf("dial turn server %s: %w", srv.URL, err)
		}
		a.startRelayClient(srv, "tcp", conn, conn.RemoteAddr())
		return nil
	}

	if srv.Transport == TransportTCP {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return fmt.Errorf("dial turn server %s: %w", srv.URL, err)
		}
		a.startRelayClient(srv, "tcp", conn, conn.RemoteAddr())
		return nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve turn server %s: %w", srv.URL, err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("open turn socket for %s: %w", srv.URL, err)
	}
	a.startRelayClient(srv, "udp", udpPacketConn{udpConn}, udpAddr)
	return nil
}

func (a *Agent) startRelayClient(srv ServerConfig, network string, conn net.Conn, server net.Addr) {
	ep, err := netio.NewEndpoint(conn, nil)
	if err != nil {
		a.log.Warnf("ice: turn endpoint for %s: %v", srv.URL, err)
		return
	}
	a.listener.AddEndpoint(ep)

	client := turn.NewClient(turn.Config{
		ServerAddr: stripScheme(srv.URL),
		Username:   srv.Username,
		Password:   srv.Credential,
		Transport:  network,
	}, ep, server, a.logFactory)

	isStream := network == "tcp"
	ep.SetDataAvailableFunc(nil, func(_ interface{}, _ *netio.Endpoint, data []byte, _, _ net.Addr) error {
		client.HandleInbound(data, isStream)
		return nil
	})

	client.OnRelayAddress = func(base, relay net.Addr) {
		a.RegisterRelayCandidate(addressFromNetAddr(base), addressFromNetAddr(relay), ep, client)
	}
	client.OnFailed = func(err error) {
		a.log.Warnf("ice: turn client for %s failed: %v", srv.URL, err)
	}
	client.OnData = func(peerIP net.IP, payload []byte) {
		if a.OnData != nil {
			a.OnData(payload, a.pairForRemoteIP(peerIP))
		}
	}

	client.Start()
}

// turnScheme reports whether url names a TURN server and, if so,
// whether it requires TLS ("turns") or not ("turn" — UDP or plain TCP,
// per srv.Transport). STUN-only servers return ok=false.
func turnScheme(url string) (scheme string, ok bool) {
	switch {
	case hasPrefix(url, "turns:"):
		return "turns", true
	case hasPrefix(url, "turn:"):
		return "turn", true
	}
	return "", false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// foundation groups candidates that share type, base, and (for
// reflexive/relay) the discovering server, per RFC 8445 §5.1.1.3 —
// simplified to a stable string derived from kind+transport+address,
// sufficient for this client's pairing purposes.
func foundation(kind Kind, transport Transport, addr Address) string {
	return fmt.Sprintf("%s-%s-%s", kind, transport, addr.NetIP())
}

func stripScheme(url string) string {
	for _, p := range []string{"stun:", "turn:", "stuns:", "turns:"} {
		if len(url) > len(p) && url[:len(p)] == p {
			return url[len(p):]
		}
	}
	return url
}

// udpPacketConn adapts *net.UDPConn to net.Conn for netio.Endpoint,
// which treats any net.PacketConn specially in its read loop.
type udpPacketConn struct{ *net.UDPConn }
