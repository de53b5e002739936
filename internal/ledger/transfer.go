package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/apperr"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/money"
)

// TransferMethod is the payment method recorded on fund transfers.
const TransferMethod = "Transferência"

// TransferRequest describes a movement of funds between two open sessions.
type TransferRequest struct {
	SourceType  string
	TargetType  string
	Amount      decimal.Decimal
	Description string
	User        string
}

// Transfer is the pair of transactions a successful transfer produced.
type Transfer struct {
	DocumentID string      `json:"document_id"`
	Out        Transaction `json:"out"`
	In         Transaction `json:"in"`
}

// TransferEligibility checks that both sides have an open session. It does
// not lock; TransferFunds repeats the check under the lock.
func (l *Ledger) TransferEligibility(sourceType, targetType string) error {
	src, dst, err := canonicalPair(sourceType, targetType)
	if err != nil {
		return err
	}
	return eligibility(l.load(), src, dst)
}

func canonicalPair(sourceType, targetType string) (string, string, error) {
	src, err := CanonicalType(sourceType)
	if err != nil {
		return "", "", err
	}
	dst, err := CanonicalType(targetType)
	if err != nil {
		return "", "", err
	}
	if src == dst {
		return "", "", apperr.Validation("source and target cashier are the same (%s)", src)
	}
	return src, dst, nil
}

func eligibility(sessions []Session, src, dst string) error {
	srcOpen, dstOpen := findOpen(sessions, src) >= 0, findOpen(sessions, dst) >= 0
	switch {
	case !srcOpen && !dstOpen:
		return apperr.ErrNoOpenSession.WithDetail("type", src+","+dst)
	case !srcOpen:
		return apperr.ErrNoOpenSession.WithDetail("type", src)
	case !dstOpen:
		return apperr.ErrNoOpenSession.WithDetail("type", dst)
	}
	return nil
}

// TransferFunds appends an out on the source session and a matching in on the
// target session under one lock, both carrying the same document id.
func (l *Ledger) TransferFunds(ctx context.Context, req TransferRequest) (Transfer, error) {
	src, dst, err := canonicalPair(req.SourceType, req.TargetType)
	if err != nil {
		return Transfer{}, err
	}
	amount := money.Round2(req.Amount)
	if !amount.IsPositive() {
		return Transfer{}, apperr.Validation("transfer amount must be > 0")
	}

	var result Transfer
	err = l.docs.WithLock(ctx, SessionsKey, func() error {
		sessions := l.load()
		if err := eligibility(sessions, src, dst); err != nil {
			return err
		}
		si, ti := findOpen(sessions, src), findOpen(sessions, dst)
		docID := l.ids.NewID()

		out := l.stamp(Transaction{
			ID:            "TRANS_" + docID + "_OUT",
			Type:          enum.TxnOut,
			Amount:        amount,
			PaymentMethod: TransferMethod,
			Description:   fmt.Sprintf("Transferência para %s: %s", dst, req.Description),
			Category:      enum.CategoryTransferSent,
			User:          req.User,
			Details:       Details{DocumentID: docID},
		})
		in := out
		in.ID = "TRANS_" + docID + "_IN"
		in.Type = enum.TxnIn
		in.Description = fmt.Sprintf("Transferência de %s: %s", src, req.Description)
		in.Category = enum.CategoryTransferReceived

		if err := checkCash(sessions[si], out); err != nil {
			return err
		}
		sessions[si].Transactions = append(sessions[si].Transactions, out)
		sessions[ti].Transactions = append(sessions[ti].Transactions, in)
		if err := l.docs.Write(SessionsKey, sessions); err != nil {
			return err
		}
		result = Transfer{DocumentID: docID, Out: out, In: in}
		return nil
	})
	if err != nil {
		l.audit.Record(ctx, audit.Entry{
			DepartmentID: enum.DeptFinance,
			ActorID:      req.User,
			Action:       "Transferência Bloqueada",
			Entity:       src + "->" + dst,
			Severity:     enum.SeverityWarning,
			Details:      map[string]any{"reason": err.Error(), "amount": amount.StringFixed(2)},
		})
		return Transfer{}, err
	}
	l.metrics.Transaction(src, enum.TxnOut)
	l.metrics.Transaction(dst, enum.TxnIn)
	l.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptFinance,
		ActorID:      req.User,
		Action:       "Transferência entre Caixas",
		Entity:       result.DocumentID,
		Details:      map[string]any{"source": src, "target": dst, "amount": amount.StringFixed(2)},
	})
	return result, nil
}

// ReverseTransfer undoes a transfer by appending negated entries on both
// original sessions, which must still be open.
func (l *Ledger) ReverseTransfer(ctx context.Context, documentID, user string) (Transfer, error) {
	var result Transfer
	err := l.docs.WithLock(ctx, SessionsKey, func() error {
		sessions := l.load()
		si, oi := locateDoc(sessions, documentID, enum.TxnOut)
		ti, ii := locateDoc(sessions, documentID, enum.TxnIn)
		if si < 0 || ti < 0 {
			return apperr.NotFound("transfer", documentID)
		}
		if !sessions[si].IsOpen() || !sessions[ti].IsOpen() {
			return apperr.ErrSessionClosed.WithDetail("document_id", documentID)
		}
		origOut := sessions[si].Transactions[oi]
		origIn := sessions[ti].Transactions[ii]
		if isReversed(sessions[si], origOut.ID) || isReversed(sessions[ti], origIn.ID) {
			return apperr.Conflict(apperr.CodeConflict, "transfer %s already reversed", documentID)
		}

		revDoc := l.ids.NewID()
		revIn := l.reversalOf(origIn, "Estorno "+origIn.Description, user)
		revIn.Details.DocumentID = revDoc
		revOut := l.reversalOf(origOut, "Estorno "+origOut.Description, user)
		revOut.Details.DocumentID = revDoc

		if err := checkCash(sessions[ti], revIn); err != nil {
			return err
		}
		sessions[ti].Transactions = append(sessions[ti].Transactions, revIn)
		sessions[si].Transactions = append(sessions[si].Transactions, revOut)
		if err := l.docs.Write(SessionsKey, sessions); err != nil {
			return err
		}
		result = Transfer{DocumentID: revDoc, Out: revOut, In: revIn}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	l.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptFinance,
		ActorID:      user,
		Action:       "Estorno de Transferência",
		Entity:       documentID,
		Severity:     enum.SeverityWarning,
	})
	return result, nil
}

func locateDoc(sessions []Session, documentID, typ string) (int, int) {
	for si := range sessions {
		for ti, t := range sessions[si].Transactions {
			if t.Details.DocumentID == documentID && t.Type == typ && t.Details.ReversesID == "" {
				return si, ti
			}
		}
	}
	return -1, -1
}
