package bangumi

// Collection is one entry of /v0/users/{username}/collections.
type Collection struct {
	SubjectID   int      `json:"subject_id"`
	SubjectType int      `json:"subject_type"`
	Type        int      `json:"type"`
	Tags        []string `json:"tags"`
}

// Subject is the part of /v0/subjects/{id} the calendar needs.
type Subject struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	NameCN        string `json:"name_cn"`
	TotalEpisodes int    `json:"total_episodes"`
}

// Episode is one entry of /v0/episodes. Airdate is "YYYY-MM-DD" or empty.
type Episode struct {
	ID       int     `json:"id"`
	Airdate  string  `json:"airdate"`
	Name     string  `json:"name"`
	NameCN   string  `json:"name_cn"`
	Duration string  `json:"duration"`
	Sort     float64 `json:"sort"`
}

// Paged is the envelope of every paginated v0 endpoint.
type Paged[T any] struct {
	Data   []T `json:"data"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Collection types.
const (
	CollectionWish  = 1
	CollectionDone  = 2
	CollectionDoing = 3
)

// Subject types.
const (
	SubjectTypeBook    = 1
	SubjectTypeAnime   = 2
	SubjectTypeMusic   = 3
	SubjectTypeGame    = 4
	SubjectTypeEpisode = 6
)
