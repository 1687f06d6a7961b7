package domain

// Intent is the three-way classification of an inbound message. Producing
// it from free text is the interpreter collaborator's job; the routing
// logic only ever consumes the classification.
type Intent string

const (
	// IntentBanking covers loans, repayments, account inquiries, greetings.
	IntentBanking Intent = "banking"
	// IntentClandestine covers inquiries about services the Bank does not
	// acknowledge.
	IntentClandestine Intent = "clandestine"
	// IntentUnrelated covers everything else, including unparseable input.
	IntentUnrelated Intent = "unrelated"
)
