package signaling

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// controlPlane performs the SigV4-signed HTTP calls spec.md §6's
// "External Interfaces" section enumerates: describe/create/endpoint/
// ice-config/delete against the kinesisvideo control plane.
type controlPlane struct {
	baseURL    string
	region     string
	creds      CredentialProvider
	httpClient *http.Client
	userAgent  string
}

func newControlPlane(info *ChannelInfo, creds CredentialProvider) *controlPlane {
	return &controlPlane{
		baseURL:    info.ControlPlaneURL,
		region:     info.Region,
		creds:      creds,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  info.UserAgent,
	}
}

func (cp *controlPlane) call(ctx context.Context, path string, req, out interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("signaling: marshal %s request: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cp.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cp.userAgent != "" {
		httpReq.Header.Set("User-Agent", cp.userAgent)
	}

	if err := cp.sign(ctx, httpReq, body); err != nil {
		return fmt.Errorf("signaling: sign %s request: %w", path, err)
	}

	resp, err := cp.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("signaling: %s request: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("signaling: read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("signaling: decode %s response: %w", path, err)
		}
	}
	return nil
}

func (cp *controlPlane) sign(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := cp.creds.Retrieve(ctx)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	signer := v4.NewSigner()
	return signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), "kinesisvideo", cp.region, time.Now())
}

type describeChannelRequest struct {
	ChannelName string `json:"ChannelName"`
}

type describeChannelResponse struct {
	ChannelInfo struct {
		ChannelARN     string `json:"ChannelARN"`
		ChannelName    string `json:"ChannelName"`
		ChannelStatus  string `json:"ChannelStatus"`
		Version        string `json:"Version"`
	} `json:"ChannelInfo"`
}

// describeChannel issues /describeSignalingChannel, per spec.md §4.9's
// "describe" state and §6's endpoint list.
func (cp *controlPlane) describeChannel(ctx context.Context, name string) (*ChannelDescription, error) {
	var resp describeChannelResponse
	err := cp.call(ctx, "/describeSignalingChannel", describeChannelRequest{ChannelName: name}, &resp)
	if err != nil {
		if httpErr, ok := err.(*HTTPError); ok && httpErr.StatusCode == http.StatusNotFound {
			return nil, ErrChannelNotFound
		}
		return nil, err
	}
	if resp.ChannelInfo.ChannelARN == "" {
		return nil, ErrChannelNotFound
	}
	return &ChannelDescription{
		ARN:           resp.ChannelInfo.ChannelARN,
		Status:        resp.ChannelInfo.ChannelStatus,
		UpdateVersion: resp.ChannelInfo.Version,
		CreatedAt:     time.Now(),
	}, nil
}

type createChannelRequest struct {
	ChannelName string            `json:"ChannelName"`
	ChannelType string            `json:"ChannelType"`
	Tags        map[string]string `json:"Tags,omitempty"`
}

type createChannelResponse struct {
	ChannelARN string `json:"ChannelARN"`
}

// createChannel issues /createSignalingChannel, per spec.md §4.9's
// "describe returns 404 → create" transition.
func (cp *controlPlane) createChannel(ctx context.Context, info *ChannelInfo) (string, error) {
	var resp createChannelResponse
	req := createChannelRequest{
		ChannelName: info.Name,
		ChannelType: string(info.Type),
		Tags:        info.Tags,
	}
	if err := cp.call(ctx, "/createSignalingChannel", req, &resp); err != nil {
		return "", err
	}
	return resp.ChannelARN, nil
}

type deleteChannelRequest struct {
	ChannelARN    string `json:"ChannelARN"`
	CurrentVersion string `json:"CurrentVersion,omitempty"`
}

// deleteChannel issues /deleteSignalingChannel.
func (cp *controlPlane) deleteChannel(ctx context.Context, arn, version string) error {
	return cp.call(ctx, "/deleteSignalingChannel", deleteChannelRequest{ChannelARN: arn, CurrentVersion: version}, nil)
}

type getEndpointRequest struct {
	ChannelARN                string                   `json:"ChannelARN"`
	SingleMasterChannelEndpointConfiguration struct {
		Protocols []string `json:"Protocols"`
		Role      string   `json:"Role"`
	} `json:"SingleMasterChannelEndpointConfiguration"`
}

type getEndpointResponse struct {
	ResourceEndpointList []struct {
		Protocol         string `json:"Protocol"`
		ResourceEndpoint string `json:"ResourceEndpoint"`
	} `json:"ResourceEndpointList"`
}

// getSignalingChannelEndpoint issues /getSignalingChannelEndpoint and
// splits the WSS/HTTPS endpoints out of the ResourceEndpointList, per
// spec.md §4.9's "get-endpoint" state.
func (cp *controlPlane) getSignalingChannelEndpoint(ctx context.Context, arn string, role Role) (https, wss string, err error) {
	req := getEndpointRequest{ChannelARN: arn}
	req.SingleMasterChannelEndpointConfiguration.Protocols = []string{"WSS", "HTTPS"}
	req.SingleMasterChannelEndpointConfiguration.Role = string(role)

	var resp getEndpointResponse
	if callErr := cp.call(ctx, "/getSignalingChannelEndpoint", req, &resp); callErr != nil {
		return "", "", callErr
	}
	for _, ep := range resp.ResourceEndpointList {
		switch ep.Protocol {
		case "HTTPS":
			https = ep.ResourceEndpoint
		case "WSS":
			wss = ep.ResourceEndpoint
		}
	}
	return https, wss, nil
}

type getIceServerConfigRequest struct {
	ChannelARN string `json:"ChannelARN"`
	ClientId   string `json:"ClientId,omitempty"`
}

type getIceServerConfigResponse struct {
	IceServerList []struct {
		Uris     []string `json:"Uris"`
		Username string   `json:"Username"`
		Password string   `json:"Password"`
		Ttl      int      `json:"Ttl"`
	} `json:"IceServerList"`
}

// getIceServerConfig issues the v1/get-ice-server-config data-plane
// call against the HTTPS endpoint, per spec.md §4.9's "get-ice-config"
// state.
func (cp *controlPlane) getIceServerConfig(ctx context.Context, httpsEndpoint, arn, clientID string) ([]IceServer, error) {
	dp := &controlPlane{
		baseURL:    httpsEndpoint,
		region:     cp.region,
		creds:      cp.creds,
		httpClient: cp.httpClient,
		userAgent:  cp.userAgent,
	}
	var resp getIceServerConfigResponse
	req := getIceServerConfigRequest{ChannelARN: arn, ClientId: clientID}
	if err := dp.call(ctx, "/v1/get-ice-server-config", req, &resp); err != nil {
		return nil, err
	}
	servers := make([]IceServer, 0, len(resp.IceServerList))
	for _, s := range resp.IceServerList {
		servers = append(servers, IceServer{
			URIs:     s.Uris,
			Username: s.Username,
			Password: s.Password,
			TTL:      time.Duration(s.Ttl) * time.Second,
		})
	}
	return servers, nil
}
