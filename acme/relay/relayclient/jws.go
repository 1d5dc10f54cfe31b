package relayclient

import (
	"context"
	"fmt"

	josepkg "github.com/go-jose/go-jose/v4"
	"github.com/sapid/acmetk/acme/cryptoutil"
	"github.com/sapid/acmetk/acme/relay/relayclient/netclient"
)

// sign produces a JWS over payload with the url and nonce headers spec
// §4.2's Authenticator requires on the receiving end. embedJWK selects
// new-account's bootstrap mode; once c.kid is known every other request
// signs in kid mode.
func (c *Client) sign(url string, payload []byte, embedJWK bool) ([]byte, error) {
	nonce := c.takeNonce()
	if nonce == "" {
		return nil, fmt.Errorf("relayclient: no nonce available to sign request to %q", url)
	}

	extra := map[josepkg.HeaderKey]any{"url": url, "nonce": nonce}

	var signingKey josepkg.SigningKey
	if embedJWK {
		signingKey = cryptoutil.SigningKeyForSigner(c.signer, "")
	} else {
		if c.kid == "" {
			return nil, fmt.Errorf("relayclient: no account kid to sign request to %q", url)
		}
		signingKey = cryptoutil.SigningKeyForSigner(c.signer, c.kid)
	}

	opts := &josepkg.SignerOptions{ExtraHeaders: extra}
	if embedJWK {
		opts.EmbedJWK = true
	}

	signer, err := josepkg.NewSigner(signingKey, opts)
	if err != nil {
		return nil, fmt.Errorf("relayclient: build signer: %w", err)
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("relayclient: sign: %w", err)
	}

	return []byte(signed.FullSerialize()), nil
}

// postJWS signs body and POSTs it to url, storing the nonce the upstream
// server returns for the next signed request.
func (c *Client) postJWS(ctx context.Context, url string, body []byte, embedJWK bool) (*netclient.Response, error) {
	jws, err := c.sign(url, body, embedJWK)
	if err != nil {
		return nil, err
	}

	resp, err := c.net.Post(ctx, url, jws)
	if err != nil {
		return nil, err
	}
	c.storeNonce(resp)
	return resp, nil
}

// postAsGet issues a POST-as-GET (RFC 8555 §6.3): an empty-payload kid-mode
// signed POST, used for every authenticated read.
func (c *Client) postAsGet(ctx context.Context, url string) (*netclient.Response, error) {
	return c.postJWS(ctx, url, []byte{}, false)
}
