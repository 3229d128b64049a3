// Package ceremony implements WebAuthn registration and login ceremonies.
//
// Each ceremony spans two requests: an issue call that stores a single-use
// challenge in the ephemeral KV, and a verify call that atomically consumes it
// and validates the signed client response. The verifier keeps no state of its
// own between calls.
package ceremony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/palaverhq/palaver/internal/platform/errors"
	"github.com/palaverhq/palaver/internal/auth/passkey"
	"github.com/palaverhq/palaver/internal/auth/session"
	"github.com/palaverhq/palaver/internal/auth/storage"
	"github.com/palaverhq/palaver/internal/auth/user"
)

const challengeKeyPrefix = "challenge:"

var (
	// ErrChallengeExpired indicates a nonce that is unknown, expired, or
	// already consumed. Legitimate on double-submission; the client retries
	// the whole ceremony.
	ErrChallengeExpired = apperrors.New(apperrors.CodeChallengeExpired, "challenge expired or unknown")
	// ErrVerificationFailed indicates a failed signature, attestation, or
	// counter check. Never retried.
	ErrVerificationFailed = apperrors.New(apperrors.CodeVerificationFailed, "verification failed")
	// ErrCredentialNotFound indicates an assertion referencing an unknown credential.
	ErrCredentialNotFound = apperrors.New(apperrors.CodeCredentialNotFound, "credential not found")
	// ErrCredentialExists indicates an attempt to re-register a known credential.
	ErrCredentialExists = apperrors.New(apperrors.CodeCredentialAlreadyExists, "credential is already registered")
)

// provider abstracts the WebAuthn library operations used by the verifier.
type provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// challengeRecord is the KV value for a pending ceremony, keyed by the nonce
// the client will echo back inside its signed client data.
type challengeRecord struct {
	Kind    passkey.CeremonyKind `json:"kind"`
	UserID  string               `json:"user_id,omitempty"`
	Session webauthn.SessionData `json:"session"`
}

// Result is the outcome of a verified ceremony.
type Result struct {
	User         user.User
	CredentialID string
	Session      session.Session
}

// Service issues challenges and verifies ceremony responses.
type Service struct {
	users       storage.UserStore
	credentials storage.CredentialStore
	kv          storage.KV
	sessions    *session.Manager
	config      passkey.Config
	newProvider func(rp passkey.RelyingParty) (provider, error)
	parser      parser
	clock       func() time.Time
}

// NewService builds a ceremony service with production defaults.
func NewService(users storage.UserStore, credentials storage.CredentialStore, kv storage.KV, sessions *session.Manager, config passkey.Config) *Service {
	return &Service{
		users:       users,
		credentials: credentials,
		kv:          kv,
		sessions:    sessions,
		config:      config,
		newProvider: func(rp passkey.RelyingParty) (provider, error) {
			return webauthn.New(&webauthn.Config{
				RPDisplayName: rp.DisplayName,
				RPID:          rp.ID,
				RPOrigins:     rp.Origins,
			})
		},
		parser: defaultParser{},
		clock:  time.Now,
	}
}

// IssueRegistrationChallenge produces creation options for registering a new
// credential to an existing user. Credentials the user already owns are listed
// as exclusions so the authenticator refuses to re-register the same hardware.
func (s *Service) IssueRegistrationChallenge(ctx context.Context, rp passkey.RelyingParty, owner user.User) (*protocol.CredentialCreation, error) {
	webAuthn, err := s.newProvider(rp)
	if err != nil {
		return nil, fmt.Errorf("configure relying party: %w", err)
	}
	ceremonyUser, err := s.loadWebAuthnUser(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load webauthn user: %w", err)
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(ceremonyUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(ceremonyUser.credentials).CredentialDescriptors()))
	}

	creation, sessionData, err := webAuthn.BeginRegistration(ceremonyUser, options...)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}
	if err := s.storeChallenge(ctx, passkey.CeremonyKindRegistration, owner.ID, sessionData); err != nil {
		return nil, err
	}
	return creation, nil
}

// IssueAuthenticationChallenge produces assertion options for a login.
// When owner is nil the challenge is discoverable: no user is bound until the
// credential id arrives in the verification step.
func (s *Service) IssueAuthenticationChallenge(ctx context.Context, rp passkey.RelyingParty, owner *user.User) (*protocol.CredentialAssertion, error) {
	webAuthn, err := s.newProvider(rp)
	if err != nil {
		return nil, fmt.Errorf("configure relying party: %w", err)
	}

	var (
		assertion   *protocol.CredentialAssertion
		sessionData *webauthn.SessionData
		userID      string
	)
	if owner == nil {
		assertion, sessionData, err = webAuthn.BeginDiscoverableLogin()
	} else {
		userID = owner.ID
		var ceremonyUser *webAuthnUser
		ceremonyUser, err = s.loadWebAuthnUser(ctx, *owner)
		if err != nil {
			return nil, fmt.Errorf("load webauthn user: %w", err)
		}
		assertion, sessionData, err = webAuthn.BeginLogin(ceremonyUser)
	}
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}
	if err := s.storeChallenge(ctx, passkey.CeremonyKindLogin, userID, sessionData); err != nil {
		return nil, err
	}
	return assertion, nil
}

// VerifyRegistration validates a signed attestation response, persists the new
// credential, and mints a session for its owner.
func (s *Service) VerifyRegistration(ctx context.Context, rp passkey.RelyingParty, responseJSON []byte) (Result, error) {
	webAuthn, err := s.newProvider(rp)
	if err != nil {
		return Result{}, fmt.Errorf("configure relying party: %w", err)
	}
	parsed, err := s.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeMalformedInput, "parse credential creation response", err)
	}

	record, err := s.consumeChallenge(ctx, parsed.Response.CollectedClientData.Challenge, passkey.CeremonyKindRegistration)
	if err != nil {
		return Result{}, err
	}
	if record.UserID == "" {
		return Result{}, apperrors.New(apperrors.CodeCeremonyKindMismatch, "registration challenge is missing its user binding")
	}
	owner, err := s.users.GetUser(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, apperrors.New(apperrors.CodeNotFound, "registration user no longer exists")
		}
		return Result{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "load registration user", err)
	}
	ceremonyUser, err := s.loadWebAuthnUser(ctx, owner)
	if err != nil {
		return Result{}, fmt.Errorf("load webauthn user: %w", err)
	}

	credential, err := webAuthn.CreateCredential(ceremonyUser, record.Session, parsed)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "verify attestation", err)
	}

	credentialID := encodeCredentialID(credential.ID)
	if _, err := s.credentials.GetCredential(ctx, credentialID); err == nil {
		return Result{}, ErrCredentialExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Result{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "check existing credential", err)
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return Result{}, fmt.Errorf("encode credential: %w", err)
	}
	now := s.clock().UTC()
	if err := s.credentials.PutCredential(ctx, storage.Credential{
		CredentialID:   credentialID,
		UserID:         owner.ID,
		PublicKey:      credential.PublicKey,
		SignCount:      credential.Authenticator.SignCount,
		CredentialJSON: string(credentialJSON),
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "store credential", err)
	}

	minted, err := s.sessions.Create(ctx, owner.ID, s.config.SessionTTL)
	if err != nil {
		return Result{}, err
	}
	return Result{User: owner, CredentialID: credentialID, Session: minted}, nil
}

// VerifyAuthentication validates a signed assertion response, advances the
// stored signature counter, and mints a session.
//
// With requireAdmin set the resolved user must hold the admin role; a
// cryptographically valid ceremony for an ordinary user is Forbidden and no
// session is minted.
func (s *Service) VerifyAuthentication(ctx context.Context, rp passkey.RelyingParty, responseJSON []byte, requireAdmin bool) (Result, error) {
	webAuthn, err := s.newProvider(rp)
	if err != nil {
		return Result{}, fmt.Errorf("configure relying party: %w", err)
	}
	parsed, err := s.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeMalformedInput, "parse credential request response", err)
	}

	// The challenge is consumed first so that any structurally valid attempt,
	// successful or not, burns the nonce.
	record, err := s.consumeChallenge(ctx, parsed.Response.CollectedClientData.Challenge, passkey.CeremonyKindLogin)
	if err != nil {
		return Result{}, err
	}

	credentialID := encodeCredentialID(parsed.RawID)
	stored, err := s.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, ErrCredentialNotFound
		}
		return Result{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "load credential", err)
	}
	owner, err := s.users.GetUser(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, ErrCredentialNotFound
		}
		return Result{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "load credential owner", err)
	}
	if record.UserID != "" && record.UserID != owner.ID {
		return Result{}, ErrVerificationFailed
	}

	validated, err := s.validateAssertion(ctx, webAuthn, record, owner, parsed)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "verify assertion", err)
	}

	// Anti-clone check: the reported counter must strictly exceed the stored
	// one. Authenticators that never implement a counter report zero on both
	// sides, which is accepted as an explicit policy.
	newCount := validated.Authenticator.SignCount
	if (stored.SignCount != 0 || newCount != 0) && newCount <= stored.SignCount {
		return Result{}, apperrors.WithMetadata(
			apperrors.CodeVerificationFailed,
			"signature counter regression",
			map[string]string{
				"credential_id": credentialID,
				"stored":        fmt.Sprintf("%d", stored.SignCount),
				"reported":      fmt.Sprintf("%d", newCount),
			},
		)
	}

	validatedJSON, err := json.Marshal(validated)
	if err != nil {
		return Result{}, fmt.Errorf("encode credential: %w", err)
	}
	if err := s.credentials.UpdateCredentialSignCount(ctx, credentialID, newCount, string(validatedJSON), s.clock().UTC()); err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "update sign count", err)
	}

	if requireAdmin && !user.IsAdmin(owner) {
		return Result{}, session.ErrForbidden
	}
	ttl := s.config.SessionTTL
	if requireAdmin {
		ttl = s.config.AdminSessionTTL
	}
	minted, err := s.sessions.Create(ctx, owner.ID, ttl)
	if err != nil {
		return Result{}, err
	}
	return Result{User: owner, CredentialID: credentialID, Session: minted}, nil
}

func (s *Service) validateAssertion(ctx context.Context, webAuthn provider, record challengeRecord, owner user.User, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	if record.UserID == "" {
		// Discoverable login: the user handle arrives in the assertion.
		_, validated, err := webAuthn.ValidatePasskeyLogin(s.discoverableHandler(ctx), record.Session, parsed)
		return validated, err
	}
	ceremonyUser, err := s.loadWebAuthnUser(ctx, owner)
	if err != nil {
		return nil, err
	}
	return webAuthn.ValidateLogin(ceremonyUser, record.Session, parsed)
}

func (s *Service) discoverableHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		userID := string(userHandle)
		if userID == "" {
			return nil, fmt.Errorf("user handle is required")
		}
		owner, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.loadWebAuthnUser(ctx, owner)
	}
}

func (s *Service) storeChallenge(ctx context.Context, kind passkey.CeremonyKind, userID string, sessionData *webauthn.SessionData) error {
	if sessionData == nil || sessionData.Challenge == "" {
		return fmt.Errorf("session data is required")
	}
	payload, err := json.Marshal(challengeRecord{Kind: kind, UserID: userID, Session: *sessionData})
	if err != nil {
		return fmt.Errorf("encode challenge record: %w", err)
	}
	if err := s.kv.Put(ctx, challengeKeyPrefix+sessionData.Challenge, string(payload), s.config.ChallengeTTL); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "store challenge", err)
	}
	return nil
}

// consumeChallenge atomically takes the challenge record for nonce. A second
// consumption, an elapsed TTL, and a never-issued nonce are indistinguishable.
func (s *Service) consumeChallenge(ctx context.Context, nonce string, kind passkey.CeremonyKind) (challengeRecord, error) {
	if nonce == "" {
		return challengeRecord{}, apperrors.New(apperrors.CodeMalformedInput, "client data challenge is missing")
	}
	raw, err := s.kv.GetDel(ctx, challengeKeyPrefix+nonce)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return challengeRecord{}, ErrChallengeExpired
		}
		return challengeRecord{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "consume challenge", err)
	}
	var record challengeRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return challengeRecord{}, fmt.Errorf("decode challenge record: %w", err)
	}
	if record.Kind != kind {
		return challengeRecord{}, apperrors.New(apperrors.CodeCeremonyKindMismatch, "challenge was issued for a different ceremony kind")
	}
	return record, nil
}

// webAuthnUser adapts a forum user and their stored credentials to the
// library's user contract.
type webAuthnUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.user.Username
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	return u.user.Username
}

func (u *webAuthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *Service) loadWebAuthnUser(ctx context.Context, base user.User) (*webAuthnUser, error) {
	records, err := s.credentials.ListCredentialsByUser(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	parsed, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &webAuthnUser{user: base, credentials: parsed}, nil
}

func decodeStoredCredentials(records []storage.Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
