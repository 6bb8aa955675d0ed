package forge

import "time"

// The types below are the validated decoding boundary: the platform's
// loosely-shaped JSON is mapped onto them once, at fetch time, so analyzers
// and the scoring engine never touch raw payloads. Unknown upstream fields
// are dropped by the decoder.

// Repository is the subset of repository metadata the scorers consume.
type Repository struct {
	FullName            string            `json:"full_name"`
	Description         string            `json:"description"`
	Stars               int               `json:"stargazers_count"`
	Forks               int               `json:"forks_count"`
	OpenIssues          int               `json:"open_issues_count"`
	Archived            bool              `json:"archived"`
	Fork                bool              `json:"fork"`
	DefaultBranch       string            `json:"default_branch"`
	CreatedAt           time.Time         `json:"created_at"`
	PushedAt            time.Time         `json:"pushed_at"`
	License             *License          `json:"license"`
	SecurityAndAnalysis *SecurityAnalysis `json:"security_and_analysis"`
}

// License is the platform-detected license of a repository.
type License struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// SecurityAnalysis mirrors the security_and_analysis metadata block. Feature
// status strings are compared with strict equality against "enabled"
// downstream; any other value, including absence, counts as disabled.
type SecurityAnalysis struct {
	SecretScanning            FeatureStatus `json:"secret_scanning"`
	DependabotSecurityUpdates FeatureStatus `json:"dependabot_security_updates"`
}

// FeatureStatus wraps a platform feature flag.
type FeatureStatus struct {
	Status string `json:"status"`
}

// Commit carries the fields scoring needs from the commits endpoint.
type Commit struct {
	SHA    string       `json:"sha"`
	Commit CommitDetail `json:"commit"`
}

// CommitDetail is the nested commit object inside a commits listing entry.
type CommitDetail struct {
	Author  CommitAuthor `json:"author"`
	Message string       `json:"message"`
}

// CommitAuthor holds the authoring timestamp of a commit.
type CommitAuthor struct {
	Date time.Time `json:"date"`
}

// Contributor is one entry of the contributors listing.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

// Account is the repository owner, either a user or an organization.
type Account struct {
	Login       string    `json:"login"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
	PublicRepos int       `json:"public_repos"`
	Followers   int       `json:"followers"`
}

// FileEntry is one entry of a directory listing from the contents API.
// Type is "file" or "dir".
type FileEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}
