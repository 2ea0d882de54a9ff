package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
)

// HTTPIssuer requests credentials from the token issuing service.
type HTTPIssuer struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPIssuer creates an issuer against the given endpoint.
func NewHTTPIssuer(endpoint string) *HTTPIssuer {
	return &HTTPIssuer{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Issue posts the connect info and returns the minted credential.
func (i *HTTPIssuer) Issue(ctx context.Context, info ConnectInfo) (Credential, error) {
	body, err := json.Marshal(info)
	if err != nil {
		return Credential{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.Client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("request credential: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("credential service returned %d", resp.StatusCode)
	}

	var cred Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	if cred.Token == "" || cred.Endpoint == "" {
		return Credential{}, fmt.Errorf("credential service returned incomplete credential")
	}
	return cred, nil
}

// LocalIssuer mints tokens directly from an API key pair. Development
// convenience for self-hosted servers; production clients go through the
// issuing service.
type LocalIssuer struct {
	APIKey    string
	APISecret string
	ServerURL string
	RoomName  string
	TokenTTL  time.Duration
}

// Issue mints a join token carrying the participant metadata.
func (i *LocalIssuer) Issue(_ context.Context, info ConnectInfo) (Credential, error) {
	if i.APIKey == "" || i.APISecret == "" {
		return Credential{}, fmt.Errorf("api key and secret required for local minting")
	}

	identity := info.ParticipantName
	if identity == "" {
		identity = "guest"
	}
	identity = fmt.Sprintf("%s-%s", identity, uuid.NewString()[:8])

	ttl := i.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	at := auth.NewAccessToken(i.APIKey, i.APISecret).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin: true,
			Room:     i.RoomName,
		}).
		SetIdentity(identity).
		SetName(info.ParticipantName).
		SetMetadata(info.MetadataJSON()).
		SetValidFor(ttl)

	token, err := at.ToJWT()
	if err != nil {
		return Credential{}, fmt.Errorf("mint token: %w", err)
	}

	return Credential{
		Token:     token,
		SessionID: uuid.NewString(),
		Endpoint:  i.ServerURL,
	}, nil
}
