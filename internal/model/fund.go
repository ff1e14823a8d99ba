package model

import "time"

// ChartSource identifies where a chart point came from.
type ChartSource string

const (
	ChartSourceEmbedded ChartSource = "embedded" // suikChart array in the listing response
	ChartSourceDetail   ChartSource = "detail"   // asset-weight table on the detail page
)

// Fund is one record of the fund listing. ID is nil until the record has
// been inserted into the store; ExternalID is the listing's own identifier
// and is only recoverable from the raw response tree.
type Fund struct {
	ID          *int64       `json:"id,omitempty"`
	ExternalID  string       `json:"external_id,omitempty"`
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	TypeName    string       `json:"type_name,omitempty"`
	Company     string       `json:"company,omitempty"`
	RiskGrade   string       `json:"risk_grade,omitempty"`
	SetupDate   string       `json:"setup_date,omitempty"`
	NAV         float64      `json:"nav"`
	TotalAssets float64      `json:"total_assets"`
	Return1M    float64      `json:"return_1m"`
	Return3M    float64      `json:"return_3m"`
	Return6M    float64      `json:"return_6m"`
	Return12M   float64      `json:"return_12m"`
	Charts      []ChartPoint `json:"charts,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at,omitempty"`
}

// HasID reports whether the fund has been assigned a storage id.
func (f *Fund) HasID() bool {
	return f.ID != nil
}

// ChartPoint is one data point attached to a fund: either a short-term
// performance point from the listing or a portfolio-breakdown row scraped
// from the detail page.
type ChartPoint struct {
	ID               int64       `json:"id,omitempty"`
	FundID           *int64      `json:"fund_id,omitempty"`
	AsOfDate         *time.Time  `json:"as_of_date,omitempty"`
	Category         string      `json:"category"`
	EvaluationAmount float64     `json:"evaluation_amount"`
	Weight           float64     `json:"weight"`
	ReturnRate       *float64    `json:"return_rate,omitempty"`
	Source           ChartSource `json:"source"`
}

// StampFundID sets FundID on every point to id.
func StampFundID(points []ChartPoint, id int64) {
	for i := range points {
		fid := id
		points[i].FundID = &fid
	}
}
