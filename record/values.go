package record

// EntityType is the type of a member of a group.
type EntityType string

const (
	EntityTypeUser    EntityType = "USER"
	EntityTypeMapping EntityType = "MAPPING"
	EntityTypeRole    EntityType = "ROLE"
	EntityTypeGroup   EntityType = "GROUP"
)

// ResourceType is the type of a deployed resource.
type ResourceType string

const (
	ResourceTypeBpmnXML ResourceType = "BPMN_XML"
	ResourceTypeDmnXML  ResourceType = "DMN_XML"
)

// GroupValue is the value of group records.
type GroupValue struct {
	GroupKey   uint64     `json:"groupKey"`
	Name       string     `json:"name"`
	EntityKey  uint64     `json:"entityKey,omitempty"`
	EntityType EntityType `json:"entityType,omitempty"`
}

// Resource is a single resource of a deployment.
type Resource struct {
	Name    string       `json:"resourceName"`
	Type    ResourceType `json:"resourceType"`
	Content []byte       `json:"resource"`
}

// ProcessMetadata describes a process deployed with a deployment.
type ProcessMetadata struct {
	ProcessDefinitionKey uint64 `json:"processDefinitionKey"`
	BpmnProcessID        string `json:"bpmnProcessId"`
	Version              int    `json:"version"`
	ResourceName         string `json:"resourceName"`
}

// DeploymentValue is the value of deployment records.
type DeploymentValue struct {
	Resources         []Resource        `json:"resources"`
	ProcessesMetadata []ProcessMetadata `json:"processesMetadata"`
}

// ProcessInstanceValue is the value of process instance records.
type ProcessInstanceValue struct {
	ProcessDefinitionKey     uint64 `json:"processDefinitionKey"`
	BpmnProcessID            string `json:"bpmnProcessId"`
	Version                  int    `json:"version,omitempty"`
	ParentProcessInstanceKey uint64 `json:"parentProcessInstanceKey,omitempty"`
}
