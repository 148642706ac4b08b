package registration

// Registration carries the validated signup input.
type Registration struct {
	Name     string
	Email    string
	Password string
}

// Result reports the records created for a successful registration.
type Result struct {
	UserID    int64 `json:"user_id"`
	ClientID  int64 `json:"client_id"`
	CompanyID int64 `json:"company_id"`
	ProjectID int64 `json:"project_id"`
	FirstUser bool  `json:"first_user"`
}
