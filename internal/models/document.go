package models

// DiplomaFields is the text printed into the three form fields of the
// diploma template.
type DiplomaFields struct {
	Username string
	Major    string
	Degree   string
}
