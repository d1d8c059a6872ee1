package models

// Action is the outcome of the merge/create decision for one article.
type Action string

const (
	// ActionMerged means the article joined an existing issue.
	ActionMerged Action = "merged"
	// ActionCreated means the article opened a new issue.
	ActionCreated Action = "created"
	// ActionDuplicate means an article with the same title hash was already
	// assigned; the existing assignment is returned unchanged.
	ActionDuplicate Action = "duplicate"
)

// Decision records everything the pipeline concluded about one article.
type Decision struct {
	ArticleID    int64   `json:"article_id"`
	IssueID      int64   `json:"issue_id"`
	Action       Action  `json:"action"`
	Score        float64 `json:"score"`
	Similarity   float64 `json:"similarity"`
	Threshold    float64 `json:"threshold"`
	Separability float64 `json:"separability"`
	Candidates   int     `json:"candidates"`
}
