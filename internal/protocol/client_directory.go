package protocol

import "fmt"

var ClientDirectory = MustSchema("ClientDirectory", map[string]Contract{
	"getShardForSpace": Request[GetShardForSpaceRequest, GetShardForSpaceResponse](),
})

var DirectoryClient = MustSchema("DirectoryClient", map[string]Contract{
	"serverMessage": Oneshot[ServerMessage](),
})

type GetShardForSpaceRequest struct {
	SpaceID string `json:"spaceId"`
}

func (r *GetShardForSpaceRequest) Validate() error {
	if r.SpaceID == "" {
		return fmt.Errorf("spaceId is required")
	}
	return nil
}

type GetShardForSpaceResponse struct {
	Result string `json:"result"`
	URL    string `json:"url,omitempty"`
}

func (r *GetShardForSpaceResponse) Validate() error {
	if err := validResult(r.Result, ResultOK, ResultNotFound); err != nil {
		return err
	}
	if r.Result == ResultOK && r.URL == "" {
		return fmt.Errorf("ok without url")
	}
	return nil
}

// ServerMessage is a notice shown to the user.
type ServerMessage struct {
	Message string `json:"message"`
}

func (m *ServerMessage) Validate() error {
	if m.Message == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// All lists every protocol, for tooling that walks them.
func All() []*Schema {
	return []*Schema{ClientShard, ShardClient, ShardDirectory, DirectoryShard, ClientDirectory, DirectoryClient}
}
