// Package persona defines target-audience profiles and the catalog they are
// selected from.
package persona

import "fmt"

// Persona is a target-audience profile used to condition script generation.
// JSON tags follow the generation backend's user-profile payload.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Age          int    `json:"age"`
	Occupation   string `json:"occupation"`
	LifeContext  string `json:"lifeContext"`
	ContentNotes string `json:"contentType"`  // themes and tone the persona posts about
	ProductUsage string `json:"productUsage"` // first-person narrative of product use
}

// Validate rejects personas the engine cannot work with.
func (p *Persona) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("persona id must not be empty")
	}
	if p.Name == "" {
		return fmt.Errorf("persona %s: name must not be empty", p.ID)
	}
	if p.Age <= 0 {
		return fmt.Errorf("persona %s: age must be positive, got %d", p.ID, p.Age)
	}
	return nil
}
