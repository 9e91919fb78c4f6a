package memory

import "time"

// Type identifies which collection a memory item belongs to.
type Type string

const (
	TypeEpisodic   Type = "episodic"
	TypeSemantic   Type = "semantic"
	TypeProcedural Type = "procedural"
	TypeEmotional  Type = "emotional"
	TypeWorking    Type = "working"
)

// Well-known association types. The field is open vocabulary; these are the
// variants the engine itself creates.
const (
	AssocTemporal     = "temporal"
	AssocSemantic     = "semantic"
	AssocEmotional    = "emotional"
	AssocHierarchical = "hierarchical"
	AssocRehearsal    = "rehearsal"
)

// Episodic is a discrete event memory tied to a session.
type Episodic struct {
	ID                 string          `json:"id"`
	AgentID            string          `json:"agent_id"`
	SessionID          string          `json:"session_id"`
	EventType          string          `json:"event_type"`
	Content            string          `json:"content"`
	Summary            string          `json:"summary"`
	Participants       []string        `json:"participants"`
	Context            TemporalContext `json:"context"`
	Valence            float64         `json:"valence"`   // [-1, 1]
	Intensity          float64         `json:"intensity"` // [0, 1]
	LessonsLearned     string          `json:"lessons_learned"`
	Importance         float64         `json:"importance"` // [0, 1]
	Tags               []string        `json:"tags"`
	Metadata           map[string]any  `json:"metadata"`
	DecayFactor        float64         `json:"decay_factor"`
	ConsolidationLevel int             `json:"consolidation_level"`
	AccessCount        int             `json:"access_count"`
	CreatedAt          time.Time       `json:"created_at"`
	AccessedAt         time.Time       `json:"accessed_at"`
}

// Archived reports whether the item has been soft-archived by the
// lifecycle manager. The flag lives in metadata, not a dedicated column.
func (e *Episodic) Archived() bool {
	v, ok := e.Metadata["archived"].(bool)
	return ok && v
}

// Semantic is generalized knowledge keyed by a per-agent unique concept.
type Semantic struct {
	ID            string              `json:"id"`
	AgentID       string              `json:"agent_id"`
	Concept       string              `json:"concept"`
	Definition    string              `json:"definition"`
	Category      string              `json:"category"`
	Subcategory   string              `json:"subcategory"`
	Relationships map[string][]string `json:"relationships"` // relation type -> concept names
	Confidence    float64             `json:"confidence"`    // [0, 1]
	Source        string              `json:"source"`
	Evidence      string              `json:"evidence"`
	Importance    float64             `json:"importance"`
	Tags          []string            `json:"tags"`
	Metadata      map[string]any      `json:"metadata"`
	AccessCount   int                 `json:"access_count"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	AccessedAt    time.Time           `json:"accessed_at"`
}

// Procedural is a learned skill, unique per (agent, skill name).
type Procedural struct {
	ID              string         `json:"id"`
	AgentID         string         `json:"agent_id"`
	SkillName       string         `json:"skill_name"`
	SkillType       string         `json:"skill_type"`
	Steps           []string       `json:"steps"`
	Triggers        []string       `json:"triggers"`
	SuccessCriteria string         `json:"success_criteria"`
	Proficiency     float64        `json:"proficiency"` // [0, 1]
	UsageFrequency  int            `json:"usage_frequency"`
	SuccessRate     float64        `json:"success_rate"`
	LastUsed        *time.Time     `json:"last_used,omitempty"`
	Importance      float64        `json:"importance"`
	Tags            []string       `json:"tags"`
	Metadata        map[string]any `json:"metadata"`
	AccessCount     int            `json:"access_count"`
	CreatedAt       time.Time      `json:"created_at"`
	AccessedAt      time.Time      `json:"accessed_at"`
}

// Emotional records an affective association with a trigger stimulus.
type Emotional struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agent_id"`
	Trigger        string         `json:"trigger"`
	EmotionType    string         `json:"emotion_type"` // open vocabulary
	Valence        float64        `json:"valence"`      // [-1, 1]
	Arousal        float64        `json:"arousal"`      // [0, 1]
	Intensity      float64        `json:"intensity"`    // [0, 1]
	Physiology     Physiology     `json:"physiology"`
	Behavior       string         `json:"behavior"`
	CopingStrategy string         `json:"coping_strategy"`
	Resolution     string         `json:"resolution"`
	Importance     float64        `json:"importance"`
	Tags           []string       `json:"tags"`
	Metadata       map[string]any `json:"metadata"`
	AccessCount    int            `json:"access_count"`
	CreatedAt      time.Time      `json:"created_at"`
	AccessedAt     time.Time      `json:"accessed_at"`
}

// Working is a session-scoped scratch item with an expiry and a capacity cost.
type Working struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	SessionID   string    `json:"session_id"`
	ContentType string    `json:"content_type"`
	Content     string    `json:"content"`
	Priority    float64   `json:"priority"` // [0, 1]
	Weight      float64   `json:"weight"`   // cost against the session capacity budget
	Activation  float64   `json:"activation"`
	SourceID    string    `json:"source_id,omitempty"`
	SourceType  Type      `json:"source_type,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int       `json:"access_count"`
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
}

// Association is a weighted link between two memory items of any type.
// At most one record exists per (agent, memory1, memory2) ordered pair.
type Association struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	Memory1ID      string    `json:"memory1_id"`
	Memory1Type    Type      `json:"memory1_type"`
	Memory2ID      string    `json:"memory2_id"`
	Memory2Type    Type      `json:"memory2_type"`
	AssocType      string    `json:"association_type"`
	Strength       float64   `json:"strength"` // [0, 1]
	Bidirectional  bool      `json:"bidirectional"`
	Reinforcements int       `json:"reinforcement_count"`
	LastReinforced time.Time `json:"last_reinforced"`
	CreatedAt      time.Time `json:"created_at"`
}

// Link builds a bidirectional association between two memory items.
// Direction is bidirectional by default; callers flip the flag explicitly
// for the rare one-way link.
func Link(agentID, id1 string, t1 Type, id2 string, t2 Type, assocType string, strength float64) *Association {
	return &Association{
		AgentID:       agentID,
		Memory1ID:     id1,
		Memory1Type:   t1,
		Memory2ID:     id2,
		Memory2Type:   t2,
		AssocType:     assocType,
		Strength:      strength,
		Bidirectional: true,
	}
}

// Related is an association resolved to the far endpoint of a query.
type Related struct {
	MemoryID   string  `json:"memory_id"`
	MemoryType Type    `json:"memory_type"`
	AssocType  string  `json:"association_type"`
	Strength   float64 `json:"strength"`
}

// RunStatus is the lifecycle state of a consolidation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Consolidation run types.
const (
	RunReflection = "reflection"
	RunSleep      = "sleep"
	RunRehearsal  = "rehearsal"
)

// Run is the persistent record of one consolidation pass.
type Run struct {
	ID              string     `json:"id"`
	AgentID         string     `json:"agent_id"`
	RunType         string     `json:"run_type"`
	Status          RunStatus  `json:"status"`
	Processed       int        `json:"processed"`
	Strengthened    int        `json:"strengthened"`
	Weakened        int        `json:"weakened"`
	Forgotten       int        `json:"forgotten"`
	NewAssociations int        `json:"new_associations"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// SearchHit is one cross-type search result tagged with its source collection.
type SearchHit struct {
	MemoryID   string    `json:"memory_id"`
	MemoryType Type      `json:"memory_type"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	Relevance  float64   `json:"relevance"`
	CreatedAt  time.Time `json:"created_at"`
}

// Statistics summarizes one agent's memory state.
type Statistics struct {
	AgentID          string    `json:"agent_id"`
	Episodic         int       `json:"episodic"`
	ArchivedEpisodic int       `json:"archived_episodic"`
	Semantic         int       `json:"semantic"`
	Procedural       int       `json:"procedural"`
	Emotional        int       `json:"emotional"`
	Working          int       `json:"working"`
	Associations     int       `json:"associations"`
	AvgImportance    float64   `json:"avg_importance"`
	LastRun          *Run      `json:"last_run,omitempty"`
	GeneratedAt      time.Time `json:"generated_at"`
}
