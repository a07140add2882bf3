package models

// These structs define the JSON payloads exchanged with the diploma form
// on the website.

// DiplomaRequest is the body of a diploma issue request. Every field is
// required; Token is the Turnstile response produced by the browser widget.
type DiplomaRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Major    string `json:"major"`
	Degree   string `json:"degree"`
	Token    string `json:"token"`
}

// MissingFields reports whether any of the diploma text fields or the
// recipient address is empty.
func (r *DiplomaRequest) MissingFields() bool {
	return r.Email == "" || r.Username == "" || r.Major == "" || r.Degree == ""
}

// Fields returns the subset of the request that is printed on the diploma.
func (r *DiplomaRequest) Fields() DiplomaFields {
	return DiplomaFields{
		Username: r.Username,
		Major:    r.Major,
		Degree:   r.Degree,
	}
}
