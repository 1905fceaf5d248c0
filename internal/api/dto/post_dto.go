package dto

type ListPostsRequest struct {
	OwnerID  string `form:"owner_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListPostsResponse struct {
	Posts      []PostDTO `json:"posts"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type PostDTO struct {
	ID            string `json:"id"`
	OwnerID       string `json:"owner_id"`
	Content       string `json:"content"`
	ScheduledTime string `json:"scheduled_time"`
	Status        string `json:"status"`
	PublishedID   string `json:"published_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}
