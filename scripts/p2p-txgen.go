package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/accord-hub/accord-hub/internal/p2p/protocol"
)

// Generates a signed transaction envelope for the cluster node API. The JSON
// printed to stdout can be POSTed to /v1/cluster/tx on the leader.

type options struct {
	op         string
	sessionID  string
	actor      string
	txID       string
	nonce      string
	timestamp  string
	privateKey string

	participants         string
	termsJSON            string
	quorumCount          int
	negotiationDeadline  string
	finalizationDeadline string

	baseVersion  int
	termsVersion int
	reason       string

	bindingHash  string
	evidenceJSON string
}

func main() {
	var opt options

	flag.StringVar(&opt.op, "op", "", "operation: initiate|join|offer|accept|reject|finalize|withdraw|dispute")
	flag.StringVar(&opt.sessionID, "session-id", "", "session identifier (uuid)")
	flag.StringVar(&opt.actor, "actor", "smoke", "acting participant")
	flag.StringVar(&opt.txID, "tx-id", "", "tx identifier; auto-generated when empty")
	flag.StringVar(&opt.nonce, "nonce", "", "nonce; auto-generated when empty")
	flag.StringVar(&opt.timestamp, "timestamp", "", "RFC3339 timestamp; default now UTC")
	flag.StringVar(&opt.privateKey, "private-key", "", "base64 private key (32-byte seed or 64-byte private key); default random")

	flag.StringVar(&opt.participants, "participants", "", "comma-separated roster (excluding actor) for initiate")
	flag.StringVar(&opt.termsJSON, "terms-json", "", "terms JSON for initiate/offer")
	flag.IntVar(&opt.quorumCount, "quorum-count", 0, "acceptance quorum for initiate; 0 means unanimous")
	flag.StringVar(&opt.negotiationDeadline, "negotiation-deadline", "", "RFC3339 negotiation deadline for initiate; default now+1h")
	flag.StringVar(&opt.finalizationDeadline, "finalization-deadline", "", "RFC3339 finalization deadline for initiate; default now+2h")

	flag.IntVar(&opt.baseVersion, "base-version", 0, "terms version the offer is based on")
	flag.IntVar(&opt.termsVersion, "terms-version", 0, "terms version for accept/reject/finalize")
	flag.StringVar(&opt.reason, "reason", "", "reason for reject/withdraw")

	flag.StringVar(&opt.bindingHash, "binding-hash", "", "commitment hash for dispute")
	flag.StringVar(&opt.evidenceJSON, "evidence-json", "", "evidence JSON for dispute")
	flag.Parse()

	op, err := parseOperation(opt.op)
	if err != nil {
		log.Fatal(err)
	}
	opt.actor = strings.TrimSpace(opt.actor)
	if opt.actor == "" {
		log.Fatal("actor is required")
	}
	sessionID := strings.TrimSpace(opt.sessionID)
	if sessionID == "" {
		log.Fatal("session-id is required")
	}

	ts, err := parseTimestamp(opt.timestamp)
	if err != nil {
		log.Fatal(err)
	}
	payload, err := buildPayload(op, sessionID, ts, opt)
	if err != nil {
		log.Fatal(err)
	}
	privateKey, err := loadPrivateKey(opt.privateKey)
	if err != nil {
		log.Fatal(err)
	}

	txID := strings.TrimSpace(opt.txID)
	if txID == "" {
		txID = autoID("tx", ts)
	}
	nonce := strings.TrimSpace(opt.nonce)
	if nonce == "" {
		nonce = autoID("n", ts)
	}
	tx := protocol.Tx{
		TxID:      txID,
		SessionID: sessionID,
		Nonce:     nonce,
		Timestamp: ts,
		Actor:     opt.actor,
		Op:        op,
		Payload:   payload,
	}
	if err := tx.Sign(privateKey); err != nil {
		log.Fatal(err)
	}

	out, err := json.Marshal(tx)
	if err != nil {
		log.Fatal(err)
	}
	_, _ = os.Stdout.Write(out)
}

func parseOperation(raw string) (protocol.Operation, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "initiate":
		return protocol.OpNegotiationInitiate, nil
	case "join":
		return protocol.OpParticipantJoin, nil
	case "offer":
		return protocol.OpTermsOffer, nil
	case "accept":
		return protocol.OpTermsAccept, nil
	case "reject":
		return protocol.OpTermsReject, nil
	case "finalize":
		return protocol.OpTermsFinalize, nil
	case "withdraw":
		return protocol.OpParticipantWithdraw, nil
	case "dispute":
		return protocol.OpDisputeRaise, nil
	default:
		return "", fmt.Errorf("unsupported op: %q", raw)
	}
}

func buildPayload(op protocol.Operation, sessionID string, ts time.Time, opt options) (json.RawMessage, error) {
	switch op {
	case protocol.OpNegotiationInitiate:
		participants := splitCSV(opt.participants)
		if len(participants) == 0 {
			return nil, errors.New("participants is required for initiate")
		}
		terms, err := parseRequiredJSON(opt.termsJSON, "terms-json")
		if err != nil {
			return nil, err
		}
		negDeadline, err := parseDeadline(opt.negotiationDeadline, ts.Add(time.Hour))
		if err != nil {
			return nil, fmt.Errorf("negotiation-deadline: %w", err)
		}
		finDeadline, err := parseDeadline(opt.finalizationDeadline, ts.Add(2*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("finalization-deadline: %w", err)
		}
		return json.Marshal(protocol.InitiatePayload{
			SessionID:            sessionID,
			Participants:         participants,
			Terms:                terms,
			QuorumCount:          opt.quorumCount,
			NegotiationDeadline:  negDeadline,
			FinalizationDeadline: finDeadline,
		})

	case protocol.OpParticipantJoin:
		return json.Marshal(protocol.JoinPayload{SessionID: sessionID})

	case protocol.OpTermsOffer:
		terms, err := parseRequiredJSON(opt.termsJSON, "terms-json")
		if err != nil {
			return nil, err
		}
		if opt.baseVersion <= 0 {
			return nil, errors.New("base-version is required for offer")
		}
		return json.Marshal(protocol.OfferPayload{
			SessionID:   sessionID,
			Terms:       terms,
			BaseVersion: opt.baseVersion,
		})

	case protocol.OpTermsAccept:
		if opt.termsVersion <= 0 {
			return nil, errors.New("terms-version is required for accept")
		}
		return json.Marshal(protocol.AcceptPayload{SessionID: sessionID, TermsVersion: opt.termsVersion})

	case protocol.OpTermsReject:
		if opt.termsVersion <= 0 {
			return nil, errors.New("terms-version is required for reject")
		}
		return json.Marshal(protocol.RejectPayload{
			SessionID:    sessionID,
			TermsVersion: opt.termsVersion,
			Reason:       strings.TrimSpace(opt.reason),
		})

	case protocol.OpTermsFinalize:
		if opt.termsVersion <= 0 {
			return nil, errors.New("terms-version is required for finalize")
		}
		return json.Marshal(protocol.FinalizePayload{SessionID: sessionID, TermsVersion: opt.termsVersion})

	case protocol.OpParticipantWithdraw:
		return json.Marshal(protocol.WithdrawPayload{
			SessionID: sessionID,
			Reason:    strings.TrimSpace(opt.reason),
		})

	case protocol.OpDisputeRaise:
		bindingHash := strings.TrimSpace(opt.bindingHash)
		if bindingHash == "" {
			return nil, errors.New("binding-hash is required for dispute")
		}
		evidence, err := parseRequiredJSON(opt.evidenceJSON, "evidence-json")
		if err != nil {
			return nil, err
		}
		return json.Marshal(protocol.DisputePayload{
			SessionID:   sessionID,
			BindingHash: bindingHash,
			Evidence:    evidence,
		})
	}
	return nil, fmt.Errorf("unsupported op: %s", op)
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, item := range parts {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseRequiredJSON(raw, fieldName string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", fieldName)
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("invalid %s", fieldName)
	}
	return json.RawMessage(trimmed), nil
}

func parseDeadline(raw string, def time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func parseTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	return parsed.UTC(), nil
}

func loadPrivateKey(raw string) (ed25519.PrivateKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid private-key base64: %w", err)
	}
	switch len(decoded) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(decoded), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(decoded), nil
	default:
		return nil, fmt.Errorf("invalid private-key length: %d (expected 32 or 64 bytes)", len(decoded))
	}
}

func autoID(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, ts.UnixNano())
}
