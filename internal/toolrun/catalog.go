package toolrun

// Owner says which party executes a tool. It is a closed variant driving a
// switch in the execute path, not a polymorphic tool hierarchy: server-owned
// tools run synchronously inside the execute call, client-owned tools go
// through the confirm/execute/report handshake on the device.
type Owner string

const (
	OwnerServer Owner = "server"
	OwnerClient Owner = "client"
)

// Tool is one catalog entry. The catalogue is small and fixed.
type Tool struct {
	ID          string
	Owner       Owner
	Description string
	Schema      Schema
	// Entitlement names the capability a caller must hold; empty means open
	// to every authenticated user.
	Entitlement string
	// RatePerMinute overrides the configured default when positive.
	RatePerMinute int
}

// Catalog tool ids.
const (
	ToolNotificationSchedule = "notification_schedule"
	ToolCalendarEventCreate  = "calendar_event_create"
	ToolReminderCreate       = "reminder_create"
	ToolSessionTitleSet      = "session_title_set"
)

// DefaultCatalog returns the fixed tool catalogue.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Tool{
		{
			ID:          ToolNotificationSchedule,
			Owner:       OwnerClient,
			Description: "Schedule a local notification on the user's device.",
			Schema: Schema{
				Properties: map[string]Property{
					"idempotency_key": {Type: "string"},
					"title":           {Type: "string"},
					"body":            {Type: "string"},
					"fire_at":         {Type: "string", Format: "date-time"},
				},
				Required: []string{"idempotency_key", "title", "fire_at"},
			},
		},
		{
			ID:          ToolCalendarEventCreate,
			Owner:       OwnerClient,
			Description: "Create an event in the user's calendar.",
			Schema: Schema{
				Properties: map[string]Property{
					"idempotency_key": {Type: "string"},
					"title":           {Type: "string"},
					"notes":           {Type: "string"},
					"starts_at":       {Type: "string", Format: "date-time"},
					"ends_at":         {Type: "string", Format: "date-time"},
				},
				Required: []string{"idempotency_key", "title", "starts_at", "ends_at"},
			},
		},
		{
			ID:          ToolReminderCreate,
			Owner:       OwnerClient,
			Description: "Create a reminder on the user's device.",
			Schema: Schema{
				Properties: map[string]Property{
					"idempotency_key": {Type: "string"},
					"title":           {Type: "string"},
					"notes":           {Type: "string"},
					"due_at":          {Type: "string", Format: "date-time"},
				},
				Required: []string{"idempotency_key", "title"},
			},
		},
		{
			ID:          ToolSessionTitleSet,
			Owner:       OwnerServer,
			Description: "Rename the current coaching session.",
			Schema: Schema{
				Properties: map[string]Property{
					"title": {Type: "string"},
				},
				Required: []string{"title"},
			},
		},
	})
}

// Catalog is an immutable set of tools keyed by id.
type Catalog struct {
	byID  map[string]Tool
	order []string
}

// NewCatalog builds a Catalog preserving declaration order.
func NewCatalog(tools []Tool) *Catalog {
	c := &Catalog{byID: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		c.byID[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	return c
}

// Get looks up a tool by id.
func (c *Catalog) Get(id string) (Tool, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// ClientOwned returns the client-owned tools in declaration order.
func (c *Catalog) ClientOwned() []Tool {
	var out []Tool
	for _, id := range c.order {
		if t := c.byID[id]; t.Owner == OwnerClient {
			out = append(out, t)
		}
	}
	return out
}
