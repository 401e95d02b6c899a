package domain

// Cross-context event names. These are a stable contract with clients
// observing the shared event store from sibling contexts.
const (
	EventVerificationStatusUpdate = "verificationStatusUpdate"
	EventNewDoctorRegistration    = "newDoctorRegistration"
)

// VerificationStatusUpdate is broadcast when an admin decides on a
// doctor's verification request.
type VerificationStatusUpdate struct {
	DoctorID        string `json:"doctorId"`
	Status          string `json:"status"`
	Message         string `json:"message"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// NewDoctorRegistration is broadcast when a doctor account is created
// and enters the verification queue.
type NewDoctorRegistration struct {
	DoctorID         string `json:"doctorId"`
	Role             string `json:"role"`
	RegistrationTime string `json:"registrationTime"`
}
