package listing

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/fund-crawler/internal/model"
	"github.com/sells-group/fund-crawler/internal/normalize"
)

// wireFund is one element of the listing response as the typed decoder sees
// it. fId and suikChart are not decoded here; they are read from the raw
// tree instead.
type wireFund struct {
	Code        flexString `json:"fundCd"`
	Name        string     `json:"fundNm"`
	TypeName    string     `json:"fundTypNm"`
	Company     string     `json:"companyNm"`
	RiskGrade   flexString `json:"riskGrade"`
	SetupDate   flexString `json:"setupYmd"`
	NAV         flexNumber `json:"gijunGa"`
	TotalAssets flexNumber `json:"totalAssets"`
	Return1M    flexNumber `json:"suikRt1"`
	Return3M    flexNumber `json:"suikRt3"`
	Return6M    flexNumber `json:"suikRt6"`
	Return12M   flexNumber `json:"suikRt12"`
}

func (w wireFund) toModel() model.Fund {
	return model.Fund{
		Code:        string(w.Code),
		Name:        normalize.Label(w.Name),
		TypeName:    normalize.Label(w.TypeName),
		Company:     normalize.Label(w.Company),
		RiskGrade:   string(w.RiskGrade),
		SetupDate:   string(w.SetupDate),
		NAV:         float64(w.NAV),
		TotalAssets: float64(w.TotalAssets),
		Return1M:    float64(w.Return1M),
		Return3M:    float64(w.Return3M),
		Return6M:    float64(w.Return6M),
		Return12M:   float64(w.Return12M),
	}
}

// flexNumber accepts a JSON number, a numeric string such as "1,234.5" or
// "12.5%", a placeholder string, or null. Anything that is not a number
// after cleanup decodes as 0.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = 0
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "listing: decode numeric string")
		}
		v, _ := normalize.ParseNumber(trimPercent(s))
		*n = flexNumber(v)
		return nil
	default:
		v, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return eris.Errorf("listing: expected number, got %s", data)
		}
		*n = flexNumber(v)
		return nil
	}
}

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return eris.Wrap(err, "listing: decode string")
		}
		*s = flexString(v)
		return nil
	default:
		if _, err := strconv.ParseFloat(string(data), 64); err != nil {
			return eris.Errorf("listing: expected string or number, got %s", data)
		}
		*s = flexString(data)
		return nil
	}
}

func trimPercent(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), "%")
}

// chartFromNode decodes one suikChart element.
func chartFromNode(node gjson.Result) (model.ChartPoint, error) {
	if !node.IsObject() {
		return model.ChartPoint{}, eris.Errorf("listing: chart element is not an object: %s", node.Raw)
	}

	p := model.ChartPoint{
		Category: normalize.Label(node.Get("category").String()),
		Source:   model.ChartSourceEmbedded,
	}
	if t, ok := normalize.ParseListDate(node.Get("gijunYmd").String()); ok {
		p.AsOfDate = &t
	}

	var err error
	if p.EvaluationAmount, err = nodeNumber(node, "evaluationAmount"); err != nil {
		return p, err
	}
	if p.Weight, err = nodeNumber(node, "weight"); err != nil {
		return p, err
	}
	if rr := node.Get("suikRt"); rr.Exists() && rr.Type != gjson.Null {
		v, err := nodeNumber(node, "suikRt")
		if err != nil {
			return p, err
		}
		p.ReturnRate = &v
	}
	return p, nil
}

func nodeNumber(node gjson.Result, field string) (float64, error) {
	r := node.Get(field)
	switch r.Type {
	case gjson.Null:
		return 0, nil
	case gjson.Number:
		return r.Float(), nil
	case gjson.String:
		v, _ := normalize.ParseNumber(trimPercent(r.Str))
		return v, nil
	default:
		return 0, eris.Errorf("listing: chart field %s is not numeric: %s", field, r.Raw)
	}
}
