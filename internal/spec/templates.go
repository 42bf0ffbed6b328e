package spec

// Built-in templates, keyed by work type. Placeholders: {title}, {work_id},
// {context}, {created_date}.
var templates = map[string]string{
	"feature":        featureTemplate,
	"bug":            bugTemplate,
	"api":            apiTemplate,
	"infrastructure": infrastructureTemplate,
}

const featureTemplate = `# {title}

## Status: Draft
## Version: 1.0.0
## Work ID: {work_id}
## Created: {created_date}

---

## 1. Summary

{context}

---

## 2. Requirements

### 2.1 Functional Requirements

- [ ] Requirement 1
- [ ] Requirement 2

### 2.2 Non-Functional Requirements

- Performance:
- Security:
- Scalability:

---

## 3. Acceptance Criteria

- [ ] Criterion 1
- [ ] Criterion 2

---

## 4. Technical Approach

### 4.1 Architecture

[Describe the technical architecture]

### 4.2 Implementation Steps

1. Step 1
2. Step 2

### 4.3 Dependencies

- Dependency 1
- Dependency 2

---

## 5. Testing Strategy

### 5.1 Unit Tests

- Test case 1
- Test case 2

### 5.2 Integration Tests

- Test scenario 1
- Test scenario 2

---

## 6. Risks and Mitigations

| Risk | Impact | Mitigation |
|------|--------|------------|
| Risk 1 | High/Medium/Low | Mitigation strategy |

---

## 7. Changelog

### v1.0.0 ({created_date})
- Initial specification
`

const bugTemplate = `# Bug Fix: {title}

## Status: Draft
## Version: 1.0.0
## Work ID: {work_id}
## Created: {created_date}

---

## 1. Problem Description

{context}

### 1.1 Expected Behavior

[What should happen]

### 1.2 Actual Behavior

[What actually happens]

### 1.3 Steps to Reproduce

1. Step 1
2. Step 2
3. Observe the issue

---

## 2. Root Cause Analysis

### 2.1 Investigation

[Document investigation steps and findings]

### 2.2 Root Cause

[Identified root cause]

---

## 3. Proposed Fix

### 3.1 Solution Description

[Describe the fix]

### 3.2 Files to Modify

- ` + "`path/to/file1.go`" + ` - Description
- ` + "`path/to/file2.go`" + ` - Description

### 3.3 Implementation Steps

1. Step 1
2. Step 2

---

## 4. Acceptance Criteria

- [ ] Bug is fixed
- [ ] No regressions introduced
- [ ] Tests added/updated

---

## 5. Testing

### 5.1 Test Cases

- Test case 1: Verify fix
- Test case 2: Regression test

### 5.2 Verification Steps

1. Step 1
2. Step 2

---

## 6. Changelog

### v1.0.0 ({created_date})
- Initial specification
`

const infrastructureTemplate = `# Infrastructure: {title}

## Status: Draft
## Version: 1.0.0
## Work ID: {work_id}
## Created: {created_date}

---

## 1. Overview

{context}

---

## 2. Requirements

### 2.1 Infrastructure Requirements

- [ ] Requirement 1
- [ ] Requirement 2

### 2.2 Security Requirements

- [ ] Security requirement 1
- [ ] Security requirement 2

### 2.3 Compliance Requirements

- [ ] Compliance requirement 1

---

## 3. Architecture

### 3.1 Current State

[Describe current infrastructure]

### 3.2 Target State

[Describe target infrastructure]

### 3.3 Components

| Component | Purpose | Technology |
|-----------|---------|------------|
| Component 1 | Purpose | Tech |

---

## 4. Implementation Plan

### 4.1 Prerequisites

- [ ] Prerequisite 1
- [ ] Prerequisite 2

### 4.2 Steps

1. Step 1
2. Step 2

### 4.3 Rollback Plan

[Describe rollback procedure]

---

## 5. Monitoring & Alerting

### 5.1 Metrics

- Metric 1
- Metric 2

### 5.2 Alerts

- Alert condition 1
- Alert condition 2

---

## 6. Changelog

### v1.0.0 ({created_date})
- Initial specification
`

const apiTemplate = `# API: {title}

## Status: Draft
## Version: 1.0.0
## Work ID: {work_id}
## Created: {created_date}

---

## 1. Overview

{context}

---

## 2. API Design

### 2.1 Endpoints

| Method | Path | Description |
|--------|------|-------------|
| GET | /api/v1/resource | Get resource |
| POST | /api/v1/resource | Create resource |

### 2.2 Request/Response Format

#### GET /api/v1/resource

**Request:**
` + "```json\n{}\n```" + `

**Response:**
` + "```json\n{\n  \"data\": []\n}\n```" + `

---

## 3. Authentication & Authorization

### 3.1 Authentication

[Describe authentication method]

### 3.2 Authorization

[Describe authorization rules]

---

## 4. Error Handling

### 4.1 Error Codes

| Code | Message | Description |
|------|---------|-------------|
| 400 | Bad Request | Invalid input |
| 401 | Unauthorized | Authentication required |
| 404 | Not Found | Resource not found |

---

## 5. Rate Limiting

- Rate limit: X requests per minute
- Burst limit: Y requests

---

## 6. Testing

### 6.1 Test Cases

- Test case 1
- Test case 2

---

## 7. Changelog

### v1.0.0 ({created_date})
- Initial specification
`
