package signaling

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// CredentialProvider is the external collaborator spec.md §1 names
// ("credential providers (static, file-based, IoT device-cert)").
// aws.CredentialsProvider already has exactly this shape, so every
// concrete provider below just satisfies it directly.
type CredentialProvider = aws.CredentialsProvider

// StaticCredentialProvider wraps a fixed access/secret/session-token
// triple, for callers that already hold long-lived credentials.
func StaticCredentialProvider(accessKeyID, secretAccessKey, sessionToken string) CredentialProvider {
	return credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)
}

// FileCredentialProvider reads a shared-credentials-file profile, the
// same format the default AWS CLI/SDK configuration uses.
func FileCredentialProvider(path, profile string) CredentialProvider {
	return credentials.NewSharedCredentials(path, profile)
}

// IoTCredentialProvider implements the AWS IoT role-alias credential
// exchange spec.md §4 supplements from
// original_source/.../credential/iot_credential_provider.c: GET
// https://<endpoint>/role-aliases/<alias>/credentials with header
// x-amzn-iot-thingname and client-certificate auth.
type IoTCredentialProvider struct {
	Endpoint   string
	RoleAlias  string
	ThingName  string
	Cert, Key  string // PEM paths
	CACert     string // optional, PEM path; not read by this provider
	HTTPClient *http.Client
}

type iotCredentialResponse struct {
	Credentials struct {
		AccessKeyID     string    `json:"accessKeyId"`
		SecretAccessKey string    `json:"secretAccessKey"`
		SessionToken    string    `json:"sessionToken"`
		Expiration      time.Time `json:"expiration"`
	} `json:"credentials"`
}

// Retrieve satisfies aws.CredentialsProvider by performing the
// role-alias exchange described above. The TLS client certificate and
// header carrying the thing name are the two pieces of this exchange
// spec.md calls out explicitly; parsing the resulting JSON and turning
// it into expirable aws.Credentials is this provider's only job.
func (p *IoTCredentialProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	client := p.HTTPClient
	if client == nil {
		cert, err := tls.LoadX509KeyPair(p.Cert, p.Key)
		if err != nil {
			return aws.Credentials{}, fmt.Errorf("signaling: load IoT client cert: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
			},
		}
	}

	url := fmt.Sprintf("https://%s/role-aliases/%s/credentials", p.Endpoint, p.RoleAlias)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return aws.Credentials{}, err
	}
	req.Header.Set("x-amzn-iot-thingname", p.ThingName)

	resp, err := client.Do(req)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("signaling: IoT credential request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return aws.Credentials{}, &HTTPError{StatusCode: resp.StatusCode, Body: "IoT credential exchange failed"}
	}

	var out iotCredentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return aws.Credentials{}, fmt.Errorf("signaling: decode IoT credential response: %w", err)
	}

	return aws.Credentials{
		AccessKeyID:     out.Credentials.AccessKeyID,
		SecretAccessKey: out.Credentials.SecretAccessKey,
		SessionToken:    out.Credentials.SessionToken,
		CanExpire:       true,
		Expires:         out.Credentials.Expiration,
	}, nil
}
