package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"disputeflow-backend/models"
)

// CreditPuller fetches bureau reports through an active connection and
// persists them with the raw payload and a summary.
type CreditPuller struct {
	Store    ConnectionStore
	Vault    *TokenVault
	Provider CreditProvider
	Parser   ReportParser
	Clock    func() time.Time
}

func (p *CreditPuller) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

// Pull fetches one bureau report. The raw provider payload is stored
// verbatim next to its SHA-256 so later re-parses can verify integrity.
func (p *CreditPuller) Pull(ctx context.Context, connectionId, bureau string) (*models.CreditReport, error) {
	conn, err := p.Store.ConnectionByID(connectionId)
	if err != nil {
		return nil, err
	}

	token, err := p.Vault.AccessToken(ctx, connectionId)
	if err != nil {
		return nil, err
	}
	raw, err := p.Provider.FetchReport(ctx, token, bureau)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(raw)
	now := p.now().UTC()
	report := &models.CreditReport{
		ConsumerId:   conn.ConsumerId,
		ConnectionId: conn.Id,
		Bureau:       bureau,
		PulledAt:     now,
		RawJSON:      datatypes.JSON(raw),
		RawJSONHash:  hex.EncodeToString(sum[:]),
	}

	if p.Parser != nil {
		if parsed, err := p.Parser.Parse(raw); err == nil {
			report.ReportDate = parsed.ReportDate
			report.Score = parsed.Score
			report.TradelineCount = parsed.TradelineCount
			report.InquiryCount = parsed.InquiryCount
			report.PublicRecordCount = parsed.PublicRecordCount
			if len(parsed.ScoreFactors) > 0 {
				report.ScoreFactors, _ = json.Marshal(parsed.ScoreFactors)
			}
		}
		// A parse failure still stores the raw report; the summary columns
		// stay zero and can be backfilled once the parser understands the
		// payload.
	}

	if err := p.Store.CreateReport(report); err != nil {
		return nil, err
	}

	conn.LastPullAt = &now
	conn.PullCount++
	if err := p.Store.SaveConnection(conn); err != nil {
		return nil, err
	}
	return report, nil
}

// PullAll fetches all three bureaus, returning the reports that succeeded
// and the first error encountered.
func (p *CreditPuller) PullAll(ctx context.Context, connectionId string) ([]*models.CreditReport, error) {
	var out []*models.CreditReport
	var firstErr error
	for _, bureau := range []string{models.BureauEquifax, models.BureauExperian, models.BureauTransUnion} {
		r, err := p.Pull(ctx, connectionId, bureau)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if IsAuthError(err) {
				// dead connection, the remaining bureaus would fail the same way
				break
			}
			continue
		}
		out = append(out, r)
	}
	return out, firstErr
}

// SmartCreditReportParser reads the summary fields out of a SmartCredit
// report payload.
type SmartCreditReportParser struct{}

type smartCreditReport struct {
	ReportDate string `json:"report_date"`
	Score      *uint  `json:"score"`
	ScoreModel struct {
		Factors []string `json:"factors"`
	} `json:"score_model"`
	Tradelines    []json.RawMessage `json:"tradelines"`
	Inquiries     []json.RawMessage `json:"inquiries"`
	PublicRecords []json.RawMessage `json:"public_records"`
}

func (SmartCreditReportParser) Parse(raw json.RawMessage) (*ReportSummary, error) {
	var r smartCreditReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	out := &ReportSummary{
		Score:             r.Score,
		ScoreFactors:      r.ScoreModel.Factors,
		TradelineCount:    uint(len(r.Tradelines)),
		InquiryCount:      uint(len(r.Inquiries)),
		PublicRecordCount: uint(len(r.PublicRecords)),
	}
	if r.ReportDate != "" {
		if t, err := time.Parse("2006-01-02", r.ReportDate); err == nil {
			out.ReportDate = &t
		}
	}
	return out, nil
}
