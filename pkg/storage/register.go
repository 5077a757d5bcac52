package storage

import "fmt"

// Built-in storage types
const (
	TypeFile     = "file"
	TypeBolt     = "bolt"
	TypeSQLite   = "sqlite"
	TypeDynamoDB = "dynamodb"
)

func init() {
	Register(TypeFile, Registration{Strategy: NewFileStrategy})
	Register(TypeBolt, Registration{Strategy: NewBoltStrategy})
	Register(TypeSQLite, Registration{Strategy: NewSQLStrategy})
}

// RegisterDynamo makes the dynamodb storage type available once a client is
// constructed. Kept out of init so that file-backed configurations never
// touch the AWS SDK.
func RegisterDynamo(client DynamoAPI) {
	Register(TypeDynamoDB, Registration{
		Strategy: func(cfg Config, entityType string) (Strategy, error) {
			table := cfg.Param("table", "paddock")
			if client == nil {
				return nil, fmt.Errorf("dynamodb storage requires a configured client")
			}
			return NewDynamoStrategy(client, table, entityType), nil
		},
	})
}
