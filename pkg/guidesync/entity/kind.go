/* Copyright 2025 Guidesync Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package entity provides the sealed set of syncable entity kinds and the
// persistence layer for their records
package entity

// Kind identifies one syncable entity kind. The value doubles as the wire
// key under which the remote API reports rows of that kind in a pull
// payload.
type Kind string

// The full set of syncable kinds
const (
	KindGuide                Kind = "guide"
	KindGuideCategory        Kind = "guide_category"
	KindGuideCategoryBinding Kind = "guide_category_binding"
	KindGuideStep            Kind = "guide_step"
	KindGuideAsset           Kind = "guide_asset"
	KindGuideAssetPivot      Kind = "guide_asset_pivot"
	KindFeedback             Kind = "feedback"
	KindProtocolTemplate     Kind = "protocol_template"
	KindProtocol             Kind = "protocol"
	KindProtocolDefault      Kind = "protocol_default"
	KindWorkflow             Kind = "workflow"
	KindWorkflowStep         Kind = "workflow_step"
)

// Kinds lists every syncable kind in the order remote changes are applied
// during a pull. The order is fixed so that progress accounting is
// deterministic across resumed pulls.
var Kinds = []Kind{
	KindGuide,
	KindGuideCategory,
	KindGuideCategoryBinding,
	KindGuideStep,
	KindGuideAsset,
	KindGuideAssetPivot,
	KindFeedback,
	KindProtocolTemplate,
	KindProtocol,
	KindProtocolDefault,
	KindWorkflow,
	KindWorkflowStep,
}

// FileTriple names the record fields holding one attachment: the display
// name, the remote url and the local path of the downloaded copy.
type FileTriple struct {
	NameField      string
	URLField       string
	LocalPathField string
}

// Attachment describes a file attachment slot of an entity kind, with an
// optional thumbnail counterpart
type Attachment struct {
	FileTriple
	Thumbnail *FileTriple
}

// Spec is the compile-time description of an entity kind: where its records
// live on the remote API and how they carry attachments
type Spec struct {
	// RemotePK is the name of the remote primary key field in wire bodies
	RemotePK string
	// BasePath is the base URL path of the kind's API endpoints
	BasePath string
	// Pushable reports whether local mutations of this kind are pushed
	Pushable bool
	// Attachments are the file slots of the kind
	Attachments []Attachment
}

var specs = map[Kind]Spec{
	KindGuide: {
		RemotePK: "guide_id",
		BasePath: "/guide",
		Attachments: []Attachment{
			{
				FileTriple: FileTriple{NameField: "preview_file", URLField: "preview_file_url", LocalPathField: "local_preview_file"},
				Thumbnail:  &FileTriple{NameField: "preview_file_thumbnail", URLField: "preview_file_thumbnail_url", LocalPathField: "local_preview_file_thumbnail"},
			},
		},
	},
	KindGuideCategory: {
		RemotePK: "guide_category_id",
		BasePath: "/guide-category",
	},
	KindGuideCategoryBinding: {
		RemotePK: "guide_category_binding_id",
		BasePath: "/guide-category-binding",
	},
	KindGuideStep: {
		RemotePK: "guide_step_id",
		BasePath: "/guide-step",
		Attachments: []Attachment{
			{
				FileTriple: FileTriple{NameField: "attached_file", URLField: "attached_file_url", LocalPathField: "local_attached_file"},
				Thumbnail:  &FileTriple{NameField: "attached_file_thumbnail", URLField: "attached_file_thumbnail_url", LocalPathField: "local_attached_file_thumbnail"},
			},
		},
	},
	KindGuideAsset: {
		RemotePK: "guide_asset_id",
		BasePath: "/guide-asset",
		Attachments: []Attachment{
			{
				FileTriple: FileTriple{NameField: "asset_file", URLField: "asset_file_url", LocalPathField: "local_asset_file"},
				Thumbnail:  &FileTriple{NameField: "asset_file_thumbnail", URLField: "asset_file_thumbnail_url", LocalPathField: "local_asset_file_thumbnail"},
			},
		},
	},
	KindGuideAssetPivot: {
		RemotePK: "guide_asset_pivot_id",
		BasePath: "/guide-asset-pivot",
	},
	KindFeedback: {
		RemotePK: "feedback_id",
		BasePath: "/feedback",
		Pushable: true,
		Attachments: []Attachment{
			{
				FileTriple: FileTriple{NameField: "attached_file", URLField: "attached_file_url", LocalPathField: "local_attached_file"},
			},
		},
	},
	KindProtocolTemplate: {
		RemotePK: "protocol_template_id",
		BasePath: "/protocol-template",
	},
	KindProtocol: {
		RemotePK: "protocol_id",
		BasePath: "/protocol",
		Pushable: true,
		Attachments: []Attachment{
			{
				FileTriple: FileTriple{NameField: "report_file", URLField: "report_file_url", LocalPathField: "local_report_file"},
			},
		},
	},
	KindProtocolDefault: {
		RemotePK: "protocol_default_id",
		BasePath: "/protocol-default",
		Pushable: true,
	},
	KindWorkflow: {
		RemotePK: "workflow_id",
		BasePath: "/workflow",
	},
	KindWorkflowStep: {
		RemotePK: "workflow_step_id",
		BasePath: "/workflow-step",
	},
}

// Spec returns the kind's wire description
func (k Kind) Spec() Spec {
	return specs[k]
}

// WireKey returns the key under which the remote API reports rows of the kind
func (k Kind) WireKey() string {
	return string(k)
}

// KindForWireKey resolves a wire key from a pull payload to a kind. The
// mapping is exhaustive over the sealed kind set; unknown keys report false.
func KindForWireKey(key string) (Kind, bool) {
	k := Kind(key)
	if _, ok := specs[k]; !ok {
		return "", false
	}

	return k, true
}

// PushKinds lists the kinds whose local mutations are pushed, in the order
// they are transmitted
func PushKinds() []Kind {
	var ret []Kind
	for _, k := range Kinds {
		if specs[k].Pushable {
			ret = append(ret, k)
		}
	}

	return ret
}
