package baas

import (
	"context"
	"net/http"
	"net/url"
)

// EnrollTOTP starts enrolling a TOTP factor for the signed-in user. The
// factor stays unverified until VerifyFactor succeeds.
func (a *AuthClient) EnrollTOTP(ctx context.Context, friendlyName string) (*TOTPEnrollment, error) {
	token, err := a.requireToken(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]string{"factor_type": "totp"}
	if friendlyName != "" {
		body["friendly_name"] = friendlyName
	}

	req, err := a.c.newRequest(ctx, http.MethodPost, "/auth/v1/factors", body, token)
	if err != nil {
		return nil, err
	}

	var out TOTPEnrollment
	if err := a.c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChallengeFactor opens a challenge for factorID.
func (a *AuthClient) ChallengeFactor(ctx context.Context, factorID string) (*Challenge, error) {
	token, err := a.requireToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := a.c.newRequest(ctx, http.MethodPost, "/auth/v1/factors/"+url.PathEscape(factorID)+"/challenge", nil, token)
	if err != nil {
		return nil, err
	}

	var out Challenge
	if err := a.c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyFactor answers a challenge. On success the session is upgraded to
// aal2 and EventMFAChallengeVerified is published.
func (a *AuthClient) VerifyFactor(ctx context.Context, factorID, challengeID, code string) (*Session, error) {
	token, err := a.requireToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := a.c.newRequest(ctx, http.MethodPost, "/auth/v1/factors/"+url.PathEscape(factorID)+"/verify",
		map[string]string{"challenge_id": challengeID, "code": code}, token)
	if err != nil {
		return nil, err
	}

	var s Session
	if err := a.c.do(req, &s); err != nil {
		return nil, err
	}
	s.normalise(a.now())

	a.setSession(ctx, &s)
	a.emit(EventMFAChallengeVerified, &s)
	return s.clone(), nil
}

// UnenrollFactor removes a factor.
func (a *AuthClient) UnenrollFactor(ctx context.Context, factorID string) error {
	token, err := a.requireToken(ctx)
	if err != nil {
		return err
	}

	req, err := a.c.newRequest(ctx, http.MethodDelete, "/auth/v1/factors/"+url.PathEscape(factorID), nil, token)
	if err != nil {
		return err
	}
	return a.c.do(req, nil)
}
