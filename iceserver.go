package webrtc

import "strings"

// OAuthCredential represents the credential info required by the
// "oauth" CredentialType, per RFC 7635 §2.
type OAuthCredential struct {
	MACKey      string
	AccessToken string
}

// ICEServer describes a single STUN and TURN server that can be used by
// the ICEAgent to establish a connection with a peer.
type ICEServer struct {
	URLs           []string
	Username       string
	Credential     interface{}
	CredentialType ICECredentialType
}

// isTurnURL reports whether rawURL names a turn:/turns: scheme, the
// only schemes requiring credentials per
// https://www.w3.org/TR/webrtc/#set-the-configuration step 11.3.2.
func isTurnURL(rawURL string) bool {
	return strings.HasPrefix(rawURL, "turn:") || strings.HasPrefix(rawURL, "turns:")
}

// validate checks that every TURN URL in this server carries
// credentials of the declared CredentialType.
func (s ICEServer) validate() error {
	for _, rawURL := range s.URLs {
		if !isTurnURL(rawURL) {
			continue
		}

		if s.Username == "" || s.Credential == nil {
			return &InvalidAccessError{Err: ErrNoTurnCred}
		}

		switch s.CredentialType {
		case ICECredentialTypePassword:
			if _, ok := s.Credential.(string); !ok {
				return &InvalidAccessError{Err: ErrTurnCred}
			}
		case ICECredentialTypeOauth:
			if _, ok := s.Credential.(OAuthCredential); !ok {
				return &InvalidAccessError{Err: ErrTurnCred}
			}
		default:
			return &InvalidAccessError{Err: ErrTurnCred}
		}
	}
	return nil
}

// urls returns the server's URLs after validating credentials.
func (s ICEServer) urls() ([]string, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s.URLs, nil
}
