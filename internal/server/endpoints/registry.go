package endpoints

import "github.com/epicrunze/evocable/internal/api"

// All returns every endpoint instance, in route-registration order.
// Adding an endpoint here wires both its HTTP route and its CLI command.
func All() []api.Endpoint {
	return []api.Endpoint{
		&HealthEndpoint{},
		&SubmitBookEndpoint{},
		&ListBooksEndpoint{},
		&BookStatusEndpoint{},
		&DeleteBookEndpoint{},
		&ChunkManifestEndpoint{},
		&StreamChunkEndpoint{},
		&SignChunkEndpoint{},
		&SignChunksBatchEndpoint{},
	}
}
