package persona

import (
	"errors"
	"sync"

	"echoflow/pkg/logx"
)

// ErrUnknownPersona indicates a selection that references a persona not
// present in the catalog. Defensive check; stage gating should prevent it.
var ErrUnknownPersona = errors.New("persona not in catalog")

// Catalog holds the personas a run may select from. It starts with the
// built-in defaults and can be replaced wholesale by a backend-supplied set.
type Catalog struct {
	mu       sync.RWMutex
	personas []Persona
	logger   *logx.Logger
}

// NewCatalog returns a catalog seeded with the built-in default personas.
func NewCatalog() *Catalog {
	return &Catalog{
		personas: defaultPersonas(),
		logger:   logx.NewLogger("persona-catalog"),
	}
}

// Replace swaps in a backend-supplied persona set. Invalid entries are
// skipped; if none survive validation the existing catalog is kept.
func (c *Catalog) Replace(personas []Persona) {
	valid := make([]Persona, 0, len(personas))
	for i := range personas {
		if err := personas[i].Validate(); err != nil {
			c.logger.Warn("Skipping invalid persona: %v", err)
			continue
		}
		valid = append(valid, personas[i])
	}

	if len(valid) == 0 {
		c.logger.Warn("Backend persona set empty after validation, keeping current catalog")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.personas = valid
	c.logger.Info("Catalog replaced with %d backend personas", len(valid))
}

// List returns a copy of the current catalog in stable order.
func (c *Catalog) List() []Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Persona, len(c.personas))
	copy(result, c.personas)
	return result
}

// Lookup returns the persona with the given id, or ErrUnknownPersona.
func (c *Catalog) Lookup(id string) (Persona, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.personas {
		if c.personas[i].ID == id {
			return c.personas[i], nil
		}
	}
	return Persona{}, ErrUnknownPersona
}

// Len returns the number of personas currently in the catalog.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.personas)
}

// defaultPersonas is the static catalog used when the backend supplies none.
func defaultPersonas() []Persona {
	return []Persona{
		{
			ID:           "1",
			Name:         "Julieta",
			Age:          38,
			Occupation:   "administrativa y madre de dos hijos",
			LifeContext:  "Vive en zona suburbana, combina trabajo de oficina con tareas del hogar; busca simplificar su rutina y cuidar el presupuesto familiar.",
			ContentNotes: "Organización del hogar, tips de ahorro, rutinas familiares; tono cálido, cercano y práctico.",
			ProductUsage: "Yo antes anotaba los gastos en un cuaderno, pero entre el laburo y los chicos se me pasaban cosas… ahora con esta app veo todo desde el celular y ya no me llevo sorpresas a fin de mes.",
		},
		{
			ID:           "2",
			Name:         "Martín",
			Age:          29,
			Occupation:   "freelancer en marketing digital",
			LifeContext:  "Trabaja desde casa, maneja múltiples clientes y proyectos; busca herramientas que le ayuden a ser más productivo y organizado.",
			ContentNotes: "Tips de productividad, herramientas digitales, vida freelancer; tono dinámico y motivacional.",
			ProductUsage: "Como freelancer necesito tener todo controlado. Esta app me permite trackear gastos por proyecto y cliente. Antes perdía tiempo con Excel, ahora todo es automático.",
		},
		{
			ID:           "3",
			Name:         "Sofía",
			Age:          24,
			Occupation:   "estudiante universitaria",
			LifeContext:  "Estudia y trabaja medio tiempo, vive con roommates; busca controlar sus gastos con presupuesto limitado.",
			ContentNotes: "Vida universitaria, tips de ahorro para estudiantes, recetas económicas; tono fresco y divertido.",
			ProductUsage: "Siendo estudiante cada peso cuenta. Con esta app puedo ver exactamente en qué gasto mi plata y donde puedo ahorrar.",
		},
		{
			ID:           "4",
			Name:         "Roberto",
			Age:          45,
			Occupation:   "dueño de pequeño negocio",
			LifeContext:  "Maneja una ferretería familiar, combina ventas presenciales y online; busca digitalizar y optimizar procesos.",
			ContentNotes: "Consejos para pequeños negocios, emprendimiento familiar, tips de ventas; tono confiable y experimentado.",
			ProductUsage: "Tengo mi ferretería hace 15 años y siempre llevé las cuentas a la antigua. Esta app me ayudó a digitalizar todo sin complicarme.",
		},
		{
			ID:           "5",
			Name:         "Camila",
			Age:          32,
			Occupation:   "profesional en recursos humanos",
			LifeContext:  "Trabaja en empresa multinacional, viaja frecuentemente por trabajo; busca simplicidad y eficiencia en sus finanzas personales.",
			ContentNotes: "Carrera profesional, tips de organización, balance vida-trabajo; tono profesional pero accesible.",
			ProductUsage: "Con tanto viaje de trabajo se me complicaba llevar el control de gastos. Esta app sincroniza todo automáticamente.",
		},
		{
			ID:           "6",
			Name:         "Diego",
			Age:          27,
			Occupation:   "chef y emprendedor gastronómico",
			LifeContext:  "Maneja un food truck y da clases de cocina; busca controlar costos de ingredientes y maximizar ganancias.",
			ContentNotes: "Recetas, tips de cocina, emprendimiento gastronómico; tono creativo y apasionado.",
			ProductUsage: "En gastronomía los márgenes son ajustados. Esta app me permite trackear el costo real de cada plato y ver qué me conviene más.",
		},
	}
}
