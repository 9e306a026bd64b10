package api

type Session struct {
	ID                    string `json:"id"`
	UserID                string `json:"userId,omitempty"`
	Title                 string `json:"title"`
	MessageCount          int    `json:"messageCount"`
	PendingClarifications int    `json:"pendingClarifications"`
	ContextSummary        string `json:"contextSummary,omitempty"`
	CreatedAt             string `json:"createdAt,omitempty"`
	UpdatedAt             string `json:"updatedAt,omitempty"`
	LastMessageAt         string `json:"lastMessageAt,omitempty"`
}

type Message struct {
	ID                  string   `json:"id"`
	SessionID           string   `json:"sessionId"`
	Role                string   `json:"role"`
	Content             string   `json:"content"`
	Sources             []Source `json:"sources,omitempty"`
	ActionsPerformed    []Action `json:"actionsPerformed,omitempty"`
	IsClarification     bool     `json:"isClarification,omitempty"`
	ClarificationType   string   `json:"clarificationType,omitempty"`
	ClarificationStatus string   `json:"clarificationStatus,omitempty"`
	ClarificationAnswer string   `json:"clarificationAnswer,omitempty"`
	Rating              int      `json:"rating,omitempty"`
	RatingFeedback      string   `json:"ratingFeedback,omitempty"`
	CreatedAt           string   `json:"createdAt,omitempty"`
}

type Source struct {
	DocID          string  `json:"docId"`
	Title          string  `json:"title"`
	Snippet        string  `json:"snippet,omitempty"`
	RelevanceScore float64 `json:"relevanceScore,omitempty"`
	PageNumber     int     `json:"pageNumber,omitempty"`
}

type Action struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

type PendingCount struct {
	Count      int  `json:"count"`
	HasOverdue bool `json:"has_overdue"`
}

type createSessionRequest struct {
	Title string `json:"title,omitempty"`
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type rateMessageRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback,omitempty"`
}

type answerClarificationRequest struct {
	Answer string `json:"answer"`
}
