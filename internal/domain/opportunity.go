package domain

// Opportunity is a scored, directional trade candidate. It lives for one tick.
type Opportunity struct {
	Asset          string    `json:"asset"`
	Direction      Direction `json:"direction"`
	Confidence     float64   `json:"confidence"`
	TechnicalScore float64   `json:"technical_score"`
	ResearchScore  float64   `json:"research_score"`
	RiskScore      float64   `json:"risk_score"`
}
