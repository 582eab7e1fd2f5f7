// Package project defines the Project domain entity.
package project

import "time"

// Project is a task-domain project that may be linked to a chat space.
type Project struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
