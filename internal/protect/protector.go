package protect

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"custodia/internal/audit"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Recorder is the slice of the audit ledger the protector needs: reveal is an
// audited operation even when it fails.
type Recorder interface {
	Append(ctx context.Context, entry audit.Entry) (uint64, error)
}

// SubjectRef names the record a reveal operates on, for attribution in the
// reveal audit entry.
type SubjectRef struct {
	Type  domain.DataType
	ID    string
	Field string
}

// Protector performs the protect/reveal transforms. ENCRYPTED uses
// AES-256-GCM; TOKENIZED uses random surrogates backed by the vault; HASHED
// uses bcrypt. The protector re-checks the reveal capability itself so a
// misrouted call can never bypass the gate.
type Protector struct {
	aead       cipher.AEAD
	keyVersion uint32
	vault      TokenVault
	recorder   Recorder
}

// New builds a Protector from a 32-byte AES key.
func New(key []byte, keyVersion uint32, vault TokenVault, recorder Recorder) (*Protector, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("field key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Protector{
		aead:       aead,
		keyVersion: keyVersion,
		vault:      vault,
		recorder:   recorder,
	}, nil
}

// Protect transforms a plaintext value into a SensitiveField of the given
// mode. ModePlaintext is rejected: plaintext never reaches storage.
func (p *Protector) Protect(ctx context.Context, value string, mode Mode) (SensitiveField, error) {
	switch mode {
	case ModeEncrypted:
		return p.encrypt(value)
	case ModeTokenized:
		return p.tokenize(ctx, value)
	case ModeHashed:
		return p.hash(value)
	case ModePlaintext:
		return SensitiveField{}, dErrors.New(dErrors.CodeValidation, "refusing to store plaintext sensitive field")
	default:
		return SensitiveField{}, dErrors.Newf(dErrors.CodeValidation, "unknown protection mode %q", mode)
	}
}

func (p *Protector) encrypt(value string) (SensitiveField, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return SensitiveField{}, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := p.aead.Seal(nonce, nonce, []byte(value), nil)
	return SensitiveField{
		Mode:       ModeEncrypted,
		Data:       base64.StdEncoding.EncodeToString(sealed),
		KeyVersion: p.keyVersion,
	}, nil
}

func (p *Protector) tokenize(ctx context.Context, value string) (SensitiveField, error) {
	token := "tok_" + uuid.NewString()
	if err := p.vault.Put(ctx, token, value); err != nil {
		return SensitiveField{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "token vault unreachable")
	}
	return SensitiveField{Mode: ModeTokenized, Data: token}, nil
}

func (p *Protector) hash(value string) (SensitiveField, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(value), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return SensitiveField{}, dErrors.New(dErrors.CodeValidation, "value too long to hash")
		}
		return SensitiveField{}, fmt.Errorf("hash value: %w", err)
	}
	return SensitiveField{Mode: ModeHashed, Data: string(hashed)}, nil
}

// CompareHash verifies a candidate against a HASHED field.
//
// Errors: CodeValidation on mismatch or wrong mode.
func (p *Protector) CompareHash(field SensitiveField, candidate string) error {
	if field.Mode != ModeHashed {
		return dErrors.New(dErrors.CodeValidation, "field is not hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(field.Data), []byte(candidate)); err != nil {
		return dErrors.New(dErrors.CodeValidation, "credential mismatch")
	}
	return nil
}

// Reveal decrypts an ENCRYPTED field for an authorized actor. Every call is
// audited, including denials and integrity failures.
//
// Errors: CodePermissionDenied without the reveal capability; CodeIntegrity
// when the ciphertext fails authentication; CodeValidation for non-encrypted
// modes; CodeUnavailable when the audit append cannot complete, in which
// case no plaintext is returned.
func (p *Protector) Reveal(ctx context.Context, field SensitiveField, actor domain.Actor, subject SubjectRef) (string, error) {
	entry := audit.Entry{
		Actor:       actor.ID,
		Action:      audit.ActionReveal,
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		Detail:      "field=" + subject.Field,
	}

	if field.Mode != ModeEncrypted {
		entry.Outcome = audit.OutcomeError
		if _, err := p.recorder.Append(ctx, entry); err != nil {
			return "", err
		}
		return "", dErrors.Newf(dErrors.CodeValidation, "reveal requires an encrypted field, got %q", field.Mode)
	}
	if field.Scrubbed {
		entry.Outcome = audit.OutcomeError
		if _, err := p.recorder.Append(ctx, entry); err != nil {
			return "", err
		}
		return "", dErrors.New(dErrors.CodeNotFound, "field was purged and is irrecoverable")
	}
	if !actor.Can(domain.CapRevealSensitive) {
		entry.Outcome = audit.OutcomeDenied
		if _, err := p.recorder.Append(ctx, entry); err != nil {
			return "", err
		}
		return "", dErrors.New(dErrors.CodePermissionDenied, "actor lacks reveal capability")
	}

	plaintext, err := p.open(field)
	if err != nil {
		entry.Outcome = audit.OutcomeError
		if _, appendErr := p.recorder.Append(ctx, entry); appendErr != nil {
			return "", appendErr
		}
		return "", err
	}

	entry.Outcome = audit.OutcomeOK
	if _, err := p.recorder.Append(ctx, entry); err != nil {
		// Audit failure blocks the reveal; the plaintext is not released.
		return "", err
	}
	return plaintext, nil
}

func (p *Protector) open(field SensitiveField) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(field.Data)
	if err != nil {
		return "", dErrors.New(dErrors.CodeIntegrity, "ciphertext is not valid base64")
	}
	if len(sealed) < p.aead.NonceSize() {
		return "", dErrors.New(dErrors.CodeIntegrity, "ciphertext shorter than nonce")
	}
	nonce, ct := sealed[:p.aead.NonceSize()], sealed[p.aead.NonceSize():]
	plaintext, err := p.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", dErrors.New(dErrors.CodeIntegrity, "ciphertext failed authentication")
	}
	return string(plaintext), nil
}

// DestroyToken removes a tokenized mapping from the vault, making the token
// permanently unlinkable. Used by retention purge.
func (p *Protector) DestroyToken(ctx context.Context, field SensitiveField) error {
	if field.Mode != ModeTokenized || field.Data == "" {
		return nil
	}
	if err := p.vault.Delete(ctx, field.Data); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "token vault unreachable")
	}
	return nil
}
