package classify

// Label is one of the activity classes the pipeline can assign.
type Label string

// The seven activity labels, in rule priority order. More specific
// activities come first; Inactive is the catch-all when nothing matches.
const (
	Sleeping       Label = "sleeping"
	AtTable        Label = "at_table"
	Reading        Label = "reading"
	OnPhone        Label = "on_phone"
	InConversation Label = "in_conversation"
	Busy           Label = "busy"
	Inactive       Label = "inactive"
)

// Labels returns every activity label in priority order. The slice is a
// fresh copy on each call.
func Labels() []Label {
	return []Label{Sleeping, AtTable, Reading, OnPhone, InConversation, Busy, Inactive}
}

// Valid reports whether l is a known label.
func (l Label) Valid() bool {
	switch l {
	case Sleeping, AtTable, Reading, OnPhone, InConversation, Busy, Inactive:
		return true
	}
	return false
}
